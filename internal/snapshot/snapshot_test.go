package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func camera(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCaptureWritesJPEG(t *testing.T) {
	fs := afero.NewMemMapFs()
	img := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	srv := camera(t, http.StatusOK, img)

	a := NewAcquirer(fs, time.Second)
	path, err := a.Capture(context.Background(), srv.URL, "/data/snapshots/monitor_a_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "/data/snapshots/monitor_a_1.jpg", path)

	got, err := a.Read(path)
	require.NoError(t, err)
	assert.Equal(t, img, got)
}

func TestCaptureRejectsNonJPEG(t *testing.T) {
	fs := afero.NewMemMapFs()
	srv := camera(t, http.StatusOK, []byte("<html>login</html>"))

	a := NewAcquirer(fs, time.Second)
	_, err := a.Capture(context.Background(), srv.URL, "/data/snapshots/monitor_a_1.jpg")
	assert.ErrorIs(t, err, ErrNotJPEG)

	exists, _ := afero.Exists(fs, "/data/snapshots/monitor_a_1.jpg")
	assert.False(t, exists, "a rejected frame must not create a file")
}

func TestCaptureRejectsEmptyBody(t *testing.T) {
	fs := afero.NewMemMapFs()
	srv := camera(t, http.StatusOK, nil)

	_, err := NewAcquirer(fs, time.Second).Capture(context.Background(), srv.URL, "/s/monitor_x_1.jpg")
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestCaptureRejectsErrorStatus(t *testing.T) {
	fs := afero.NewMemMapFs()
	srv := camera(t, http.StatusServiceUnavailable, []byte{0xFF, 0xD8})

	_, err := NewAcquirer(fs, time.Second).Capture(context.Background(), srv.URL, "/s/monitor_x_1.jpg")
	assert.True(t, errors.Is(err, ErrStatus), "err = %v", err)

	exists, _ := afero.Exists(fs, "/s/monitor_x_1.jpg")
	assert.False(t, exists)
}

func TestCaptureNetworkError(t *testing.T) {
	srv := camera(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	_, err := NewAcquirer(afero.NewMemMapFs(), time.Second).Capture(context.Background(), url, "/s/monitor_x_1.jpg")
	assert.Error(t, err)
}

func TestCleanupKeepsNewest(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/data/snapshots"
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, fmt.Sprintf("monitor_2026_%d.jpg", i))
		require.NoError(t, afero.WriteFile(fs, p, []byte{0xFF, 0xD8}, 0o644))
		require.NoError(t, fs.Chtimes(p, base, base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "keep.txt"), []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, "manual.jpg"), []byte("x"), 0o644))

	removed := NewAcquirer(fs, 0).Cleanup(dir, 2)
	assert.Equal(t, 3, removed)

	for i := 0; i < 5; i++ {
		exists, _ := afero.Exists(fs, filepath.Join(dir, fmt.Sprintf("monitor_2026_%d.jpg", i)))
		assert.Equal(t, i >= 3, exists, "monitor_2026_%d.jpg", i)
	}
	for _, other := range []string{"keep.txt", "manual.jpg"} {
		exists, _ := afero.Exists(fs, filepath.Join(dir, other))
		assert.True(t, exists, other)
	}
}

func TestCleanupUnderLimitAndMissingDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewAcquirer(fs, 0)
	assert.Equal(t, 0, a.Cleanup("/nope", 3))

	require.NoError(t, afero.WriteFile(fs, "/d/monitor_1_1.jpg", []byte{1}, 0o644))
	assert.Equal(t, 0, a.Cleanup("/d", 3))
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "monitor_20260304-050607_12.jpg", FileName(ts, 12))
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "http://cam/override", ResolveURL(" http://cam/override ", "http://host/cam"))
	assert.Equal(t, "http://host/cam", ResolveURL("", "http://host/cam"))
	assert.Equal(t, DefaultURL, ResolveURL("  ", ""))
}
