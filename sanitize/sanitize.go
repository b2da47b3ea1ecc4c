// Package sanitize implements C6: defensive scrubbing of
// user-authored strings before they reach the document store or get
// fanned out to other clients.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const roomNameMaxLen = 100

var (
	textPolicy = bluemonday.StrictPolicy()
	bodyPolicy = newBodyPolicy()
)

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "u", "em", "strong", "br", "p")
	return p
}

var dangerousSchemes = []string{"javascript:", "data:", "vbscript:"}

func stripDangerousSchemes(s string) string {
	lower := strings.ToLower(s)
	for _, scheme := range dangerousSchemes {
		for {
			idx := strings.Index(lower, scheme)
			if idx == -1 {
				break
			}
			s = s[:idx] + s[idx+len(scheme):]
			lower = lower[:idx] + lower[idx+len(scheme):]
		}
	}
	return s
}

// Text HTML-entity-escapes, strips every tag, strips dangerous URI
// schemes, and trims surrounding whitespace. It is a fixed point under
// re-application.
func Text(s string) string {
	out := textPolicy.Sanitize(s)
	out = stripDangerousSchemes(out)
	return strings.TrimSpace(out)
}

// MessageBody permits a small inline-formatting tag set and forbids
// every attribute (and therefore every event handler), while still
// stripping dangerous URI schemes that might survive as text content.
func MessageBody(s string) string {
	out := bodyPolicy.Sanitize(s)
	out = stripDangerousSchemes(out)
	return strings.TrimSpace(out)
}

// RoomName sanitizes as plain text and clamps to 100 characters.
func RoomName(s string) string {
	out := Text(s)
	if runes := []rune(out); len(runes) > roomNameMaxLen {
		out = string(runes[:roomNameMaxLen])
	}
	return out
}
