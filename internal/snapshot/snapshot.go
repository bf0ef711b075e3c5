// Package snapshot fetches camera frames and manages their on-disk retention.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/atomicfile"
)

// DefaultURL is the mjpg-streamer snapshot endpoint used when nothing else is configured.
const DefaultURL = "http://localhost:8080/?action=snapshot"

const (
	filePrefix = "monitor_"
	fileExt    = ".jpg"
	// Larger bodies are not camera stills.
	maxImageBytes = 32 << 20
)

var jpegMagic = []byte{0xFF, 0xD8}

var (
	ErrNotJPEG = errors.New("snapshot response is not a valid JPEG image")
	ErrStatus  = errors.New("snapshot source returned error status")
)

// Acquirer captures JPEG frames over HTTP into a filesystem.
type Acquirer struct {
	fs     afero.Fs
	client *http.Client
}

// NewAcquirer returns an Acquirer writing to fs with the given request timeout.
func NewAcquirer(fs afero.Fs, timeout time.Duration) *Acquirer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Acquirer{fs: fs, client: &http.Client{Timeout: timeout}}
}

// Capture downloads one frame from url and stores it at path. Nothing is
// written unless the body starts with the JPEG SOI marker.
func (a *Acquirer) Capture(ctx context.Context, url, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	if !bytes.HasPrefix(body, jpegMagic) {
		return "", ErrNotJPEG
	}

	if err := atomicfile.WriteFile(a.fs, path, body); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return path, nil
}

// Read returns the bytes of a stored snapshot.
func (a *Acquirer) Read(path string) ([]byte, error) {
	return afero.ReadFile(a.fs, path)
}

// FileName returns the name for the frame taken at t during cycle n.
func FileName(t time.Time, n int) string {
	return fmt.Sprintf("%s%s_%d%s", filePrefix, t.Format("20060102-150405"), n, fileExt)
}

// Cleanup deletes all but the newest maxKeep monitor snapshots in dir,
// ordered by modification time. Individual delete failures are ignored.
// It returns how many files were removed.
func (a *Acquirer) Cleanup(dir string, maxKeep int) int {
	infos, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		return 0
	}

	var shots []fileInfo
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		shots = append(shots, fileInfo{path: filepath.Join(dir, name), mod: fi.ModTime()})
	}
	if maxKeep < 0 {
		maxKeep = 0
	}
	if len(shots) <= maxKeep {
		return 0
	}

	sort.SliceStable(shots, func(i, j int) bool { return shots[i].mod.Before(shots[j].mod) })

	removed := 0
	for _, s := range shots[:len(shots)-maxKeep] {
		if a.fs.Remove(s.path) == nil {
			removed++
		}
	}
	return removed
}

type fileInfo struct {
	path string
	mod  time.Time
}

// ResolveURL picks the snapshot source: explicit override, then the host's
// camera URL, then DefaultURL.
func ResolveURL(override, hostURL string) string {
	if u := strings.TrimSpace(override); u != "" {
		return u
	}
	if u := strings.TrimSpace(hostURL); u != "" {
		return u
	}
	return DefaultURL
}
