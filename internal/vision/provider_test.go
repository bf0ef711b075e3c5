package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylegalloway/guardianeye/internal/config"
	"github.com/kylegalloway/guardianeye/internal/logging"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'x'}

// capture records the last request a fake vendor received.
type capture struct {
	path    string
	query   string
	headers http.Header
	body    map[string]any
}

func fakeVendor(t *testing.T, status int, reply string) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.path = r.URL.Path
		c.query = r.URL.RawQuery
		c.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func newProvider(t *testing.T, cfg config.ProviderConfig) Provider {
	t.Helper()
	cfg.Timeout = 5 * time.Second
	cfg.MaxTokens = 150
	p, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	return p
}

func TestOpenAIAnalyze(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"choices":[{"message":{"content":"VERDICT: FAIL | Spaghetti detected"}}]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOpenAI, APIKey: "sk-1", Model: "gpt-4o-mini", Endpoint: srv.URL})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)

	assert.True(t, v.Failed)
	assert.Equal(t, "Spaghetti detected", v.Reason)
	assert.Equal(t, 0.95, v.Confidence)
	assert.Equal(t, "openai", v.Provider)
	assert.Equal(t, "gpt-4o-mini", v.Model)

	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-1", got.headers.Get("Authorization"))
	assert.Equal(t, "gpt-4o-mini", got.body["model"])
	assert.EqualValues(t, 150, got.body["max_tokens"])

	msgs := got.body["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].([]any)
	assert.Equal(t, "look", content[0].(map[string]any)["text"])
	imageURL := content[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "data:image/jpeg;base64,/9j/"), imageURL)
}

func TestAzureOmitsModelAndUsesAPIKeyHeader(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"choices":[{"message":{"content":"VERDICT: OK"}}]}`)
	p := newProvider(t, config.ProviderConfig{
		Name:            config.ProviderAzureOpenAI,
		APIKey:          "az-key",
		Endpoint:        srv.URL + "/",
		AzureDeployment: "vision",
		AzureAPIVersion: "2025-01-01-preview",
	})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)

	assert.False(t, v.Failed)
	assert.Equal(t, "vision", v.Model)
	assert.Equal(t, "/openai/deployments/vision/chat/completions", got.path)
	assert.Equal(t, "api-version=2025-01-01-preview", got.query)
	assert.Equal(t, "az-key", got.headers.Get("api-key"))
	assert.Empty(t, got.headers.Get("Authorization"))
	_, hasModel := got.body["model"]
	assert.False(t, hasModel)
}

func TestAnthropicAnalyze(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"content":[{"type":"thinking"},{"type":"text","text":"VERDICT: OK | clean layers"}]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderAnthropic, APIKey: "ant", Model: "claude-haiku-4-5-20251001", Endpoint: srv.URL})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)

	assert.False(t, v.Failed)
	assert.Equal(t, "clean layers", v.Reason)
	assert.Equal(t, "/v1/messages", got.path)
	assert.Equal(t, "ant", got.headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", got.headers.Get("anthropic-version"))

	content := got.body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	img := content[0].(map[string]any)
	assert.Equal(t, "image", img["type"])
	assert.Equal(t, "image/jpeg", img["source"].(map[string]any)["media_type"])
	assert.Equal(t, "look", content[1].(map[string]any)["text"])
}

func TestGeminiAnalyze(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"candidates":[{"content":{"parts":[{"text":"verdict: fail | layer shift"}]}}]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderGemini, APIKey: "gk", Model: "gemini-2.0-flash", Endpoint: srv.URL})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)

	assert.True(t, v.Failed)
	assert.Equal(t, "layer shift", v.Reason)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", got.path)
	assert.Equal(t, "gk", got.headers.Get("x-goog-api-key"))
	gen := got.body["generationConfig"].(map[string]any)
	assert.EqualValues(t, 150, gen["maxOutputTokens"])
	parts := got.body["contents"].([]any)[0].(map[string]any)["parts"].([]any)
	assert.Equal(t, "image/jpeg", parts[1].(map[string]any)["inline_data"].(map[string]any)["mime_type"])
}

func TestOllamaAnalyze(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"message":{"content":"VERDICT: OK"}}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOllama, Model: "llava", Endpoint: srv.URL})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)

	assert.False(t, v.Failed)
	assert.Equal(t, 0.0, v.Cost)
	assert.Equal(t, "/api/chat", got.path)
	assert.Equal(t, false, got.body["stream"])
	assert.EqualValues(t, 150, got.body["options"].(map[string]any)["num_predict"])
	msg := got.body["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, "look", msg["content"])
	assert.Len(t, msg["images"], 1)
}

func TestAnalyzeNonConformingReplyIsOK(t *testing.T) {
	srv, _ := fakeVendor(t, 200, `{"choices":[{"message":{"content":"I am not sure"}}]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderXAI, APIKey: "x", Model: "grok-2-vision-latest", Endpoint: srv.URL})

	v, err := p.Analyze(context.Background(), jpeg, "look")
	require.NoError(t, err)
	assert.False(t, v.Failed)
	assert.Equal(t, "I am not sure", v.Reason)
}

func TestAnalyzeErrorStatus(t *testing.T) {
	srv, _ := fakeVendor(t, 401, `{"error":"bad key"}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOpenAI, APIKey: "bad", Model: "gpt-4o", Endpoint: srv.URL})

	_, err := p.Analyze(context.Background(), jpeg, "look")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 401, se.Code)
	assert.Contains(t, se.Body, "bad key")
}

func TestAnalyzeEmptyChoicesIsError(t *testing.T) {
	srv, _ := fakeVendor(t, 200, `{"choices":[]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOpenAI, Model: "gpt-4o", Endpoint: srv.URL})

	_, err := p.Analyze(context.Background(), jpeg, "look")
	assert.Error(t, err)
}

func TestTestConnectionByAnalyze(t *testing.T) {
	srv, got := fakeVendor(t, 200, `{"choices":[{"message":{"content":"VERDICT: OK"}}]}`)
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOpenAI, Model: "gpt-4o-mini", Endpoint: srv.URL})

	ok, msg := p.TestConnection(context.Background())
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(msg, "Connected to openai/gpt-4o-mini ("), msg)

	content := got.body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	assert.Equal(t, testPrompt, content[0].(map[string]any)["text"])
}

func TestTestConnectionFailure(t *testing.T) {
	srv, _ := fakeVendor(t, 500, "boom")
	p := newProvider(t, config.ProviderConfig{Name: config.ProviderGemini, Model: "gemini-2.0-flash", Endpoint: srv.URL})

	ok, msg := p.TestConnection(context.Background())
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(msg, "gemini error: "), msg)
}

func TestOllamaTestConnection(t *testing.T) {
	srv, _ := fakeVendor(t, 200, `{"models":[{"name":"mistral:latest"},{"name":"llava:13b"}]}`)

	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOllama, Model: "llava", Endpoint: srv.URL})
	ok, msg := p.TestConnection(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Ollama running, model 'llava' available", msg)

	p = newProvider(t, config.ProviderConfig{Name: config.ProviderOllama, Model: "bakllava", Endpoint: srv.URL})
	ok, msg = p.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "Ollama running but model 'bakllava' not found. Available: mistral:latest, llava:13b", msg)
}

func TestOllamaTestConnectionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newProvider(t, config.ProviderConfig{Name: config.ProviderOllama, Model: "llava", Endpoint: url})
	ok, msg := p.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "Cannot connect to Ollama at "+url+". Is it running?", msg)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(config.ProviderConfig{Name: "clippy"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNewAzureRequiresEndpoint(t *testing.T) {
	_, err := New(config.ProviderConfig{Name: config.ProviderAzureOpenAI}, nil)
	assert.Error(t, err)
}

func TestTestImageIsJPEG(t *testing.T) {
	img := TestImage()
	require.GreaterOrEqual(t, len(img), 2)
	assert.Equal(t, byte(0xFF), img[0])
	assert.Equal(t, byte(0xD8), img[1])
}

func TestMockProviderScript(t *testing.T) {
	m := NewMockProvider("VERDICT: FAIL | blob", "VERDICT: OK")
	m.Results = append(m.Results, MockResult{Err: errors.New("timeout")})

	v, err := m.Analyze(context.Background(), jpeg, "p1")
	require.NoError(t, err)
	assert.True(t, v.Failed)

	v, err = m.Analyze(context.Background(), jpeg, "p2")
	require.NoError(t, err)
	assert.False(t, v.Failed)

	_, err = m.Analyze(context.Background(), jpeg, "p3")
	assert.Error(t, err)
	_, err = m.Analyze(context.Background(), jpeg, "p4")
	assert.Error(t, err, "last result repeats")

	assert.Equal(t, 4, m.Calls())
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, m.Prompts())
}
