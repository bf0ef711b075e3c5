package vision

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	openAIBase = "https://api.openai.com"
	xaiBase    = "https://api.x.ai"
)

// ChatCompletions speaks the OpenAI chat-completions format shared by
// OpenAI, Azure OpenAI and xAI.
type ChatCompletions struct {
	httpBase
	url       string
	headers   map[string]string
	sendModel bool
}

func newChatCompletions(b httpBase, url string, headers map[string]string, sendModel bool) *ChatCompletions {
	return &ChatCompletions{httpBase: b, url: url, headers: headers, sendModel: sendModel}
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model,omitempty"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ChatCompletions) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	start := time.Now()
	req := chatRequest{
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &chatImageURL{URL: "data:image/jpeg;base64," + encodeImage(image)}},
			},
		}},
		MaxTokens: c.maxTokens,
	}
	if c.sendModel {
		req.Model = c.model
	}

	var resp chatResponse
	if err := c.postJSON(ctx, c.url, c.headers, req, &resp); err != nil {
		return Verdict{}, err
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%s response has no choices", c.name)
	}
	return c.verdict(strings.TrimSpace(resp.Choices[0].Message.Content), start), nil
}

func (c *ChatCompletions) TestConnection(ctx context.Context) (bool, string) {
	return testByAnalyze(ctx, c)
}
