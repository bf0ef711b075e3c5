package vision

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reply grammar tokens. Matching is ASCII case-insensitive.
const (
	failToken = "VERDICT: FAIL"
	okToken   = "VERDICT: OK"
)

const (
	defaultFailReason = "visual failure detected"
	defaultOKReason   = "print looks normal"
	failConfidence    = 0.95
	maxFallbackReason = 200
)

// Verdict is the normalized outcome of one vision analysis call.
type Verdict struct {
	Failed     bool    `json:"failed"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	LatencyMs  int64   `json:"latency_ms"`
	Cost       float64 `json:"cost"`
}

// WithCost returns a copy of v annotated with the given per-call cost.
func (v Verdict) WithCost(cost float64) Verdict {
	v.Cost = cost
	return v
}

// ParseVerdict extracts a pass/fail decision from free-form model output.
//
// "VERDICT: FAIL" is searched first, then "VERDICT: OK"; text after the token
// (minus a leading pipe) becomes the reason. A reply containing neither token
// is treated as a non-failure and conforms is false. Malformed output must
// never produce a failure.
func ParseVerdict(reply string) (v Verdict, conforms bool) {
	reply = strings.TrimSpace(reply)

	if idx := indexFold(reply, failToken); idx >= 0 {
		reason := reasonAfter(reply[idx+len(failToken):])
		if reason == "" {
			reason = defaultFailReason
		}
		return Verdict{Failed: true, Reason: reason, Confidence: failConfidence}, true
	}

	if idx := indexFold(reply, okToken); idx >= 0 {
		reason := reasonAfter(reply[idx+len(okToken):])
		if reason == "" {
			reason = defaultOKReason
		}
		return Verdict{Failed: false, Reason: reason, Confidence: 0}, true
	}

	return Verdict{Failed: false, Reason: truncateRunes(reply, maxFallbackReason), Confidence: 0}, false
}

func reasonAfter(s string) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	s = strings.TrimLeft(s, "|")
	return strings.TrimSpace(s)
}

// indexFold is strings.Index with ASCII case folding. Byte offsets in s are
// preserved, unlike searching in strings.ToUpper(s).
func indexFold(s, sub string) int {
	n := len(sub)
	for i := 0; i+n <= len(s); i++ {
		if asciiEqualFold(s[i:i+n], sub) {
			return i
		}
	}
	return -1
}

func asciiEqualFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
