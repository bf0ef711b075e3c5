package vision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	ollamaBase    = "http://localhost:11434"
	ollamaTagsTTL = 10 * time.Second
	maxListModels = 5
)

// Ollama calls a local Ollama runtime. It needs no credentials and costs nothing.
type Ollama struct {
	httpBase
	endpoint string
}

type ollamaRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string   `json:"role"`
		Content string   `json:"content"`
		Images  []string `json:"images"`
	} `json:"messages"`
	Stream  bool `json:"stream"`
	Options struct {
		NumPredict int `json:"num_predict"`
	} `json:"options"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (o *Ollama) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	start := time.Now()
	req := ollamaRequest{Model: o.model}
	req.Messages = append(req.Messages, struct {
		Role    string   `json:"role"`
		Content string   `json:"content"`
		Images  []string `json:"images"`
	}{Role: "user", Content: prompt, Images: []string{encodeImage(image)}})
	req.Options.NumPredict = o.maxTokens

	var resp ollamaResponse
	if err := o.postJSON(ctx, o.endpoint+"/api/chat", nil, req, &resp); err != nil {
		return Verdict{}, err
	}
	v := o.verdict(strings.TrimSpace(resp.Message.Content), start)
	v.Cost = 0
	return v, nil
}

// TestConnection lists installed models and looks for the configured one.
// Tags carry suffixes such as ":latest", so the match is a substring match.
func (o *Ollama) TestConnection(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTagsTTL)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return false, fmt.Sprintf("Ollama error: %s", truncateRunes(err.Error(), maxErrorBody))
	}
	var tags ollamaTags
	if err := o.do(req, &tags); err != nil {
		if isConnectError(err) {
			return false, fmt.Sprintf("Cannot connect to Ollama at %s. Is it running?", o.endpoint)
		}
		return false, fmt.Sprintf("Ollama error: %s", truncateRunes(err.Error(), maxErrorBody))
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	for _, n := range names {
		if strings.Contains(n, o.model) {
			return true, fmt.Sprintf("Ollama running, model '%s' available", o.model)
		}
	}
	if len(names) > maxListModels {
		names = names[:maxListModels]
	}
	return false, fmt.Sprintf("Ollama running but model '%s' not found. Available: %s", o.model, strings.Join(names, ", "))
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
