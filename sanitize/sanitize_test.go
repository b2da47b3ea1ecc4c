package sanitize

import (
	"strings"
	"testing"
)

func TestTextStripsTagsAndSchemes(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"script tag", `<script>alert(1)</script>hello`},
		{"javascript scheme", `click <a href="javascript:alert(1)">here</a>`},
		{"data scheme", `<img src="data:text/html,evil">`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := Text(c.input)
			if strings.Contains(strings.ToLower(out), "<script") {
				t.Errorf("script tag survived: %q", out)
			}
			if strings.Contains(strings.ToLower(out), "javascript:") {
				t.Errorf("javascript: scheme survived: %q", out)
			}
			if strings.Contains(strings.ToLower(out), "data:") {
				t.Errorf("data: scheme survived: %q", out)
			}
		})
	}
}

func TestTextIsIdempotent(t *testing.T) {
	inputs := []string{
		`<b>hello</b> <script>bad()</script> world`,
		`javascript:void(0)`,
		`plain text`,
		`  leading and trailing whitespace  `,
	}
	for _, in := range inputs {
		once := Text(in)
		twice := Text(once)
		if once != twice {
			t.Errorf("Text not idempotent: once=%q twice=%q", once, twice)
		}
	}
}

func TestMessageBodyAllowsInlineFormatting(t *testing.T) {
	out := MessageBody("<b>bold</b> and <em>emphasis</em>")
	if !strings.Contains(out, "<b>bold</b>") {
		t.Errorf("expected <b> tag to survive, got %q", out)
	}
	if !strings.Contains(out, "<em>emphasis</em>") {
		t.Errorf("expected <em> tag to survive, got %q", out)
	}
}

func TestMessageBodyStripsAttributesAndEventHandlers(t *testing.T) {
	out := MessageBody(`<b onclick="evil()" style="color:red">bold</b>`)
	if strings.Contains(out, "onclick") {
		t.Errorf("event handler survived: %q", out)
	}
	if strings.Contains(out, "style") {
		t.Errorf("attribute survived: %q", out)
	}
}

func TestMessageBodyStripsDisallowedTags(t *testing.T) {
	out := MessageBody(`<script>alert(1)</script><iframe src="evil"></iframe>ok`)
	if strings.Contains(strings.ToLower(out), "<script") || strings.Contains(strings.ToLower(out), "<iframe") {
		t.Errorf("disallowed tag survived: %q", out)
	}
}

func TestMessageBodyIsIdempotent(t *testing.T) {
	inputs := []string{
		`<b onclick="evil()">bold</b>`,
		`<script>bad()</script>plain`,
	}
	for _, in := range inputs {
		once := MessageBody(in)
		twice := MessageBody(once)
		if once != twice {
			t.Errorf("MessageBody not idempotent: once=%q twice=%q", once, twice)
		}
	}
}

func TestRoomNameClampsLength(t *testing.T) {
	long := strings.Repeat("a", 150)
	out := RoomName(long)
	if len(out) > 100 {
		t.Errorf("expected clamp to 100 chars, got %d", len(out))
	}
}

func TestRoomNameIsIdempotent(t *testing.T) {
	long := strings.Repeat("x", 150) + "<script>bad()</script>"
	once := RoomName(long)
	twice := RoomName(once)
	if once != twice {
		t.Errorf("RoomName not idempotent: once=%q twice=%q", once, twice)
	}
}
