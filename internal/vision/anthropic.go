package vision

import (
	"context"
	"strings"
	"time"
)

const (
	anthropicBase    = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Anthropic calls the Messages API.
type Anthropic struct {
	httpBase
	url    string
	apiKey string
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string           `json:"role"`
		Content []anthropicBlock `json:"content"`
	} `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

func (a *Anthropic) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	start := time.Now()
	req := anthropicRequest{Model: a.model, MaxTokens: a.maxTokens}
	req.Messages = append(req.Messages, struct {
		Role    string           `json:"role"`
		Content []anthropicBlock `json:"content"`
	}{
		Role: "user",
		Content: []anthropicBlock{
			{Type: "image", Source: &anthropicImageSource{Type: "base64", MediaType: "image/jpeg", Data: encodeImage(image)}},
			{Type: "text", Text: prompt},
		},
	})

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := a.postJSON(ctx, a.url, headers, req, &resp); err != nil {
		return Verdict{}, err
	}

	var reply string
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply = block.Text
			break
		}
	}
	return a.verdict(strings.TrimSpace(reply), start), nil
}

func (a *Anthropic) TestConnection(ctx context.Context) (bool, string) {
	return testByAnalyze(ctx, a)
}
