// Package notify fans a confirmed print failure out to external alert channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/spf13/afero"

	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/sanitize"
)

const (
	jsonTimeout   = 10 * time.Second
	uploadTimeout = 15 * time.Second

	pluginID = "guardianeye"
)

// Alert is one failure event.
type Alert struct {
	Reason string
	// Image is the JPEG that confirmed the failure; nil when unavailable.
	Image []byte
}

// Channel delivers an alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Dispatcher delivers alerts to every configured channel independently.
type Dispatcher struct {
	channels []Channel
	fs       afero.Fs
	log      *slog.Logger
}

// NewDispatcher returns a dispatcher over channels. Snapshots are read from fs.
func NewDispatcher(fs afero.Fs, log *slog.Logger, channels ...Channel) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{channels: channels, fs: fs, log: log.With("component", "notify")}
}

// FromConfig builds a dispatcher for the enabled channels in cfg.
func FromConfig(cfg config.NotificationConfig, fs afero.Fs, log *slog.Logger) *Dispatcher {
	client := &http.Client{}
	var chans []Channel
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		chans = append(chans, &Webhook{URL: cfg.Webhook.URL, Client: client})
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		chans = append(chans, &Discord{WebhookURL: cfg.Discord.WebhookURL, Client: client})
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		chans = append(chans, &Telegram{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			APIBase:  cfg.Telegram.APIBase,
			Client:   client,
		})
	}
	return NewDispatcher(fs, log, chans...)
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Notify sends reason, plus the snapshot at snapshotPath when it can be
// read, to every channel. A failing channel is logged and never stops the
// others; the joined errors are returned for callers that want them.
func (d *Dispatcher) Notify(ctx context.Context, reason, snapshotPath string) error {
	if len(d.channels) == 0 {
		return nil
	}
	a := Alert{Reason: sanitize.Reason(reason)}
	if snapshotPath != "" {
		img, err := afero.ReadFile(d.fs, snapshotPath)
		if err != nil {
			d.log.Warn("snapshot unavailable for alert", "path", snapshotPath, "err", err)
		} else {
			a.Image = img
		}
	}

	var errs []error
	for _, c := range d.channels {
		if err := c.Send(ctx, a); err != nil {
			d.log.Warn("notification failed", "channel", c.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		d.log.Info("notification sent", "channel", c.Name())
	}
	return errors.Join(errs...)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, jsonTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return send(client, req)
}

// multipartForm is a set of text fields plus one JPEG file part.
type multipartForm struct {
	fields    [][2]string
	fileField string
	image     []byte
}

func postMultipart(ctx context.Context, client *http.Client, url string, form multipartForm) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range form.fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="snapshot.jpg"`, form.fileField))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(form.image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return send(client, req)
}

func send(client *http.Client, req *http.Request) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
