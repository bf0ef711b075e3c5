package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxReasonRunes bounds reasons embedded in alerts and history.
const MaxReasonRunes = 500

// Reason cleans a vendor-provided failure reason: control characters are
// dropped, whitespace runs collapse to one space and the result is bounded.
func Reason(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case unicode.IsControl(r), r == utf8.RuneError:
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	out := b.String()
	if utf8.RuneCountInString(out) <= MaxReasonRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:MaxReasonRunes-1]) + "…"
}

// markdownSpecial are the characters Telegram's legacy Markdown mode interprets.
var markdownSpecial = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// Markdown escapes s for embedding in a Markdown-formatted chat message.
func Markdown(s string) string {
	return markdownSpecial.Replace(s)
}
