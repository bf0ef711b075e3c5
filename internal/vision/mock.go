package vision

import (
	"context"
	"sync"
)

// MockResult is one scripted outcome of MockProvider.Analyze.
type MockResult struct {
	Reply string
	Err   error
}

// MockProvider implements Provider with scripted replies for testing.
// Replies are consumed in order; once exhausted the last one repeats.
type MockProvider struct {
	ProviderName string
	ModelName    string
	Results      []MockResult

	mu      sync.Mutex
	calls   int
	prompts []string
}

// NewMockProvider returns a MockProvider that answers with replies in order.
func NewMockProvider(replies ...string) *MockProvider {
	m := &MockProvider{ProviderName: "mock", ModelName: "mock-vision"}
	for _, r := range replies {
		m.Results = append(m.Results, MockResult{Reply: r})
	}
	return m
}

func (m *MockProvider) Name() string  { return m.ProviderName }
func (m *MockProvider) Model() string { return m.ModelName }

func (m *MockProvider) Analyze(ctx context.Context, image []byte, prompt string) (Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	res := MockResult{Reply: "VERDICT: OK"}
	if n := len(m.Results); n > 0 {
		i := m.calls
		if i >= n {
			i = n - 1
		}
		res = m.Results[i]
	}
	m.calls++

	if res.Err != nil {
		return Verdict{}, res.Err
	}
	v, _ := ParseVerdict(res.Reply)
	v.Provider = m.ProviderName
	v.Model = m.ModelName
	return v, nil
}

func (m *MockProvider) TestConnection(ctx context.Context) (bool, string) {
	return testByAnalyze(ctx, m)
}

// Calls returns how many times Analyze ran.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns every prompt Analyze received.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
