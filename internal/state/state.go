// Package state persists the monitor's live state so external readers (the
// status command, a restarted daemon) can see it.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/atomicfile"
	"github.com/kylegalloway/guardianeye/internal/monitor"
)

// FileName is the state document inside the data directory.
const FileName = "state.json"

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("no saved state")

// Manager reads and writes the state document.
type Manager struct {
	fs   afero.Fs
	path string
}

// NewManager creates a Manager for dataDir.
func NewManager(fsys afero.Fs, dataDir string) *Manager {
	return &Manager{fs: fsys, path: filepath.Join(dataDir, FileName)}
}

// Path returns the state file location.
func (m *Manager) Path() string { return m.path }

// Save writes s atomically.
func (m *Manager) Save(s monitor.State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := atomicfile.WriteFile(m.fs, m.path, data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Load reads the saved state.
func (m *Manager) Load() (monitor.State, error) {
	var s monitor.State
	data, err := afero.ReadFile(m.fs, m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, ErrNoState
	}
	if err != nil {
		return s, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}

// Exists reports whether a state file is present.
func (m *Manager) Exists() bool {
	ok, _ := afero.Exists(m.fs, m.path)
	return ok
}

// Remove deletes the state file.
func (m *Manager) Remove() error {
	if err := m.fs.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

// Recover clears a stale active flag left by a process that did not shut
// down cleanly. It reports whether the file was rewritten.
func (m *Manager) Recover() (bool, error) {
	s, err := m.Load()
	if errors.Is(err, ErrNoState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.Active {
		return false, nil
	}
	s.Active = false
	return true, m.Save(s)
}
