package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kylegalloway/guardianeye/internal/config"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown vision provider")

// ErrStatus matches any *StatusError via errors.Is.
var ErrStatus = errors.New("vision api returned error status")

// StatusError reports a non-2xx response from a vendor API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Provider turns an image and a prompt into a Verdict.
type Provider interface {
	Name() string
	Model() string
	Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error)
	// TestConnection checks credentials and reachability without a camera.
	TestConnection(ctx context.Context) (ok bool, message string)
}

// testImage is a 1x1 JPEG used by connection tests.
const testImage = "/9j/4AAQSkZJRgABAQEASABIAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkS" +
	"Ew8UHRofHh0aHBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/2wBDAQkJ" +
	"CQwLDBgNDRgyIRwhMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIy" +
	"MjIyMjIyMjIyMjIyMjL/wAARCAABAAEDASIAAhEBAxEB/8QAFAABAAAAAAAAAAAAAAAAAAAACf" +
	"/EABQQAQAAAAAAAAAAAAAAAAAAAAD/xAAUAQEAAAAAAAAAAAAAAAAAAAAA/8QAFBEBAAAA" +
	"AAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCwAB//2Q=="

const testPrompt = "Respond with: VERDICT: OK"

// TestImage returns the decoded connection-test JPEG.
func TestImage() []byte {
	b, _ := base64.StdEncoding.DecodeString(testImage)
	return b
}

const maxErrorBody = 200

// New builds the provider selected by cfg.Name.
func New(cfg config.ProviderConfig, log *slog.Logger) (Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 150
	}
	base := func(name, model string) httpBase {
		return httpBase{
			name:      name,
			model:     model,
			client:    &http.Client{Timeout: timeout},
			maxTokens: maxTokens,
			log:       log.With("component", "vision", "provider", name),
		}
	}

	switch cfg.Name {
	case config.ProviderOpenAI:
		return newChatCompletions(base(cfg.Name, cfg.Model), endpointOr(cfg.Endpoint, openAIBase)+"/v1/chat/completions", bearer(cfg.APIKey), true), nil
	case config.ProviderXAI:
		return newChatCompletions(base(cfg.Name, cfg.Model), endpointOr(cfg.Endpoint, xaiBase)+"/v1/chat/completions", bearer(cfg.APIKey), true), nil
	case config.ProviderAzureOpenAI:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("%s: endpoint is required", cfg.Name)
		}
		url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimRight(cfg.Endpoint, "/"), cfg.AzureDeployment, cfg.AzureAPIVersion)
		// Azure selects the model by deployment, so the body carries none.
		return newChatCompletions(base(cfg.Name, cfg.AzureDeployment), url, map[string]string{"api-key": cfg.APIKey}, false), nil
	case config.ProviderAnthropic:
		return &Anthropic{httpBase: base(cfg.Name, cfg.Model), url: endpointOr(cfg.Endpoint, anthropicBase) + "/v1/messages", apiKey: cfg.APIKey}, nil
	case config.ProviderGemini:
		return &Gemini{httpBase: base(cfg.Name, cfg.Model), baseURL: endpointOr(cfg.Endpoint, geminiBase), apiKey: cfg.APIKey}, nil
	case config.ProviderOllama:
		return &Ollama{httpBase: base(cfg.Name, cfg.Model), endpoint: endpointOr(cfg.Endpoint, ollamaBase)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}

func endpointOr(endpoint, fallback string) string {
	if endpoint == "" {
		return fallback
	}
	return strings.TrimRight(endpoint, "/")
}

func bearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// httpBase holds the immutable plumbing every HTTP provider shares.
type httpBase struct {
	name      string
	model     string
	client    *http.Client
	maxTokens int
	log       *slog.Logger
}

func (b httpBase) Name() string  { return b.name }
func (b httpBase) Model() string { return b.model }

// postJSON sends body as JSON and decodes a 2xx response into out.
func (b httpBase) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return b.do(req, out)
}

func (b httpBase) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", b.name, err)
	}
	return nil
}

// verdict parses reply and stamps provider identity and latency.
func (b httpBase) verdict(reply string, start time.Time) Verdict {
	v, conforms := ParseVerdict(reply)
	if !conforms {
		b.log.Warn("vision reply did not match verdict format, treating as OK", "reply", v.Reason)
	}
	v.Provider = b.name
	v.Model = b.model
	v.LatencyMs = time.Since(start).Milliseconds()
	return v
}

// testByAnalyze runs the analyze path on the built-in test image.
func testByAnalyze(ctx context.Context, p Provider) (bool, string) {
	v, err := p.Analyze(ctx, TestImage(), testPrompt)
	if err != nil {
		return false, fmt.Sprintf("%s error: %s", p.Name(), truncateRunes(err.Error(), maxErrorBody))
	}
	return true, fmt.Sprintf("Connected to %s/%s (%dms)", p.Name(), p.Model(), v.LatencyMs)
}

func encodeImage(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}
