package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kylegalloway/guardianeye/internal/sanitize"
)

// Webhook posts a small JSON event, suitable for Home Assistant or IFTTT.
type Webhook struct {
	URL    string
	Client *http.Client
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, a Alert) error {
	return postJSON(ctx, w.Client, w.URL, map[string]string{
		"event":  "print_failure",
		"plugin": pluginID,
		"reason": a.Reason,
	})
}

const (
	discordTitle = "GuardianEye — Print Failure Detected"
	discordRed   = 0xFF0000
)

// Discord posts an embed, attaching the snapshot when there is one.
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, a Alert) error {
	payload := discordPayload{Embeds: []discordEmbed{{Title: discordTitle, Description: a.Reason, Color: discordRed}}}
	if len(a.Image) == 0 {
		return postJSON(ctx, d.Client, d.WebhookURL, payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return postMultipart(ctx, d.Client, d.WebhookURL, multipartForm{
		fields:    [][2]string{{"payload_json", string(raw)}},
		fileField: "file",
		image:     a.Image,
	})
}

const telegramAPI = "https://api.telegram.org"

// Telegram sends through the Bot API: a captioned photo when there is a
// snapshot, otherwise a text message.
type Telegram struct {
	BotToken string
	ChatID   string
	// APIBase defaults to the public Bot API.
	APIBase string
	Client  *http.Client
}

func (t *Telegram) Name() string { return "telegram" }

// Caption renders the Markdown message body for reason.
func Caption(reason string) string {
	return "🚨 *GuardianEye — Print Failure*\n\n" + sanitize.Markdown(reason)
}

func (t *Telegram) Send(ctx context.Context, a Alert) error {
	if err := t.send(ctx, a); err != nil {
		// Transport errors quote the URL, which embeds the bot token.
		return errors.New(strings.ReplaceAll(err.Error(), t.BotToken, "<token>"))
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, a Alert) error {
	base := strings.TrimRight(t.APIBase, "/")
	if base == "" {
		base = telegramAPI
	}
	endpoint := base + "/bot" + t.BotToken
	caption := Caption(a.Reason)

	if len(a.Image) == 0 {
		return postJSON(ctx, t.Client, endpoint+"/sendMessage", map[string]string{
			"chat_id":    t.ChatID,
			"text":       caption,
			"parse_mode": "Markdown",
		})
	}
	return postMultipart(ctx, t.Client, endpoint+"/sendPhoto", multipartForm{
		fields: [][2]string{
			{"chat_id", t.ChatID},
			{"caption", caption},
			{"parse_mode", "Markdown"},
		},
		fileField: "photo",
		image:     a.Image,
	})
}
