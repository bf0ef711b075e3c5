package vision

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const geminiBase = "https://generativelanguage.googleapis.com"

// Gemini calls the generateContent endpoint with an inline image part.
type Gemini struct {
	httpBase
	baseURL string
	apiKey  string
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	start := time.Now()
	var req geminiRequest
	req.Contents = append(req.Contents, struct {
		Parts []geminiPart `json:"parts"`
	}{Parts: []geminiPart{
		{Text: prompt},
		{InlineData: &geminiInlineData{MimeType: "image/jpeg", Data: encodeImage(image)}},
	}})
	req.GenerationConfig.MaxOutputTokens = g.maxTokens

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	var resp geminiResponse
	if err := g.postJSON(ctx, url, map[string]string{"x-goog-api-key": g.apiKey}, req, &resp); err != nil {
		return Verdict{}, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return Verdict{}, fmt.Errorf("%s response has no candidates", g.name)
	}
	return g.verdict(strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), start), nil
}

func (g *Gemini) TestConnection(ctx context.Context) (bool, string) {
	return testByAnalyze(ctx, g)
}
