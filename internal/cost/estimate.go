// Package cost estimates per-call vision API cost and accumulates it.
package cost

import "math"

type key struct{ provider, model string }

// Approximate USD per call: ~1000 input tokens (image + prompt) and ~50 output tokens.
var table = map[key]float64{
	{"openai", "gpt-4o-mini"}:  0.0003,
	{"openai", "gpt-4o"}:       0.005,
	{"openai", "gpt-4.1-mini"}: 0.0003,
	{"openai", "gpt-4.1"}:      0.004,

	{"azure_openai", "gpt-4o-mini"}:  0.0003,
	{"azure_openai", "gpt-4o"}:       0.005,
	{"azure_openai", "gpt-4.1-mini"}: 0.0003,
	{"azure_openai", "gpt-4.1"}:      0.004,

	{"anthropic", "claude-sonnet-4-20250514"}:  0.005,
	{"anthropic", "claude-haiku-4-5-20251001"}: 0.001,

	{"xai", "grok-2-vision-latest"}: 0.005,

	{"gemini", "gemini-2.0-flash"}: 0.0001,
	{"gemini", "gemini-1.5-flash"}: 0.0001,
	{"gemini", "gemini-1.5-pro"}:   0.003,

	{"ollama", "llava"}:     0,
	{"ollama", "llava:13b"}: 0,
	{"ollama", "llava:34b"}: 0,
	{"ollama", "bakllava"}:  0,
}

var providerDefaults = map[string]float64{
	"openai":       0.001,
	"azure_openai": 0.001,
	"anthropic":    0.005,
	"xai":          0.005,
	"gemini":       0.0005,
	"ollama":       0,
}

const unknownProviderCost = 0.001

// Estimate returns the approximate cost of one call to model on provider.
// Unknown models fall back to the provider default; local models are free.
func Estimate(provider, model string) float64 {
	if c, ok := table[key{provider, model}]; ok {
		return c
	}
	if c, ok := providerDefaults[provider]; ok {
		return c
	}
	return unknownProviderCost
}

// Round4 rounds to four decimal places, the precision costs are reported at.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
