// Package history persists the rolling verdict log and per-print session summaries.
//
// Each collection is one JSON document rewritten in full on every mutation.
// Reads never fail: a missing or unreadable document loads as empty.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/atomicfile"
)

const (
	VerdictFile = "verdict_history.json"
	SessionFile = "session_history.json"

	MaxVerdicts = 500
	MaxSessions = 100
)

// loadDocument decodes path into out. Problems are logged and reported as false.
func loadDocument(fs afero.Fs, path string, out any, log *slog.Logger) bool {
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		log.Warn("could not read history, starting empty", "path", path, "err", err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn("could not parse history, starting empty", "path", path, "err", err)
		return false
	}
	return true
}

// saveDocument writes v with one-space indentation.
func saveDocument(fs afero.Fs, path string, v any) error {
	data, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return atomicfile.WriteFile(fs, path, data)
}
