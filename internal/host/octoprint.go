package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// OctoPrint is a REST client for an OctoPrint server.
type OctoPrint struct {
	base   *url.URL
	apiKey string
	client *http.Client
}

// NewOctoPrint returns a client for the server at baseURL.
func NewOctoPrint(baseURL, apiKey string, timeout time.Duration) (*OctoPrint, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse octoprint url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("octoprint url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OctoPrint{base: u, apiKey: apiKey, client: &http.Client{Timeout: timeout}}, nil
}

// Job is the subset of GET /api/job the poller uses.
type Job struct {
	State string `json:"state"`
	Job   struct {
		File struct {
			Name string `json:"name"`
		} `json:"file"`
	} `json:"job"`
	Progress struct {
		Completion *float64 `json:"completion"`
	} `json:"progress"`
}

// Completion returns the job completion percentage, 0 when unknown.
func (j *Job) Completion() float64 {
	if j.Progress.Completion == nil {
		return 0
	}
	return *j.Progress.Completion
}

// SnapshotURL reads webcam.snapshotUrl from the server settings. Relative
// URLs are resolved against the server address.
func (o *OctoPrint) SnapshotURL(ctx context.Context) (string, error) {
	var settings struct {
		Webcam struct {
			SnapshotURL string `json:"snapshotUrl"`
		} `json:"webcam"`
	}
	if err := o.do(ctx, http.MethodGet, "/api/settings", nil, &settings); err != nil {
		return "", err
	}
	raw := strings.TrimSpace(settings.Webcam.SnapshotURL)
	if raw == "" {
		return "", nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse webcam snapshot url: %w", err)
	}
	return o.base.ResolveReference(ref).String(), nil
}

// CancelPrint cancels the current job.
func (o *OctoPrint) CancelPrint(ctx context.Context) error {
	return o.do(ctx, http.MethodPost, "/api/job", map[string]string{"command": "cancel"}, nil)
}

// Job returns the current job status.
func (o *OctoPrint) Job(ctx context.Context) (*Job, error) {
	var j Job
	if err := o.do(ctx, http.MethodGet, "/api/job", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Close releases idle connections.
func (o *OctoPrint) Close() {
	o.client.CloseIdleConnections()
}

func (o *OctoPrint) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.base.String()+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", o.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("octoprint %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("octoprint %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
