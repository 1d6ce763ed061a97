package content

import (
	"strings"
	"testing"
)

func TestIsEmptyHTML(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"blank", "", true},
		{"whitespace only", "  \n\t ", true},
		{"nbsp only", "&nbsp; &nbsp;", true},
		{"bare empty paragraph", "<p></p>", true},
		{"paragraph with break", "<p><br></p>", true},
		{"self-closed break", "<p><br/></p>", true},
		{"doubled empty paragraph", "<p></p><p></p>", true},
		{"doubled break paragraph", "<p><br></p><p><br></p>", true},
		{"marker with attributes", `<p class="editor-empty"><br></p>`, true},
		{"marker with case", "<P></P>", true},
		{"tags only", "<div><span></span></div>", true},
		{"nbsp in paragraph", "<p>&nbsp;</p>", true},
		{"real content", "<p>Term of agreement</p>", false},
		{"content with markup", "<p><strong>1.</strong> Parties</p>", false},
		{"bare text", "hello", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsEmptyHTML(tc.body); got != tc.want {
				t.Errorf("IsEmptyHTML(%q) = %v, want %v", tc.body, got, tc.want)
			}
		})
	}
}

func TestIsMeaningfullyEmpty(t *testing.T) {
	if !IsMeaningfullyEmpty("<p></p>", "") {
		t.Error("empty body with blank text should be meaningfully empty")
	}
	if IsMeaningfullyEmpty("<p></p>", "hello") {
		t.Error("non-blank text must rescue an empty body")
	}
	if IsMeaningfullyEmpty("<p>draft</p>", "") {
		t.Error("non-empty body is never meaningfully empty")
	}
}

func TestExtractText(t *testing.T) {
	got := ExtractText("<p>Section <strong>one</strong></p><p>Section two</p>")
	if got != "Section one Section two" {
		t.Errorf("ExtractText = %q", got)
	}
	if ExtractText("<div><br></div>") != "" {
		t.Error("expected no text from markup-only body")
	}
}

func TestHTMLFromText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"blank", "   ", ""},
		{"single paragraph", "hello world", "<p>hello world</p>"},
		{"line break within paragraph", "line one\nline two", "<p>line one<br>line two</p>"},
		{"blank line splits paragraphs", "first\n\nsecond", "<p>first</p><p>second</p>"},
		{"blank line with spaces", "first\n   \nsecond", "<p>first</p><p>second</p>"},
		{"escaping", "a < b & c", "<p>a &lt; b &amp; c</p>"},
		{"crlf input", "one\r\n\r\ntwo", "<p>one</p><p>two</p>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTMLFromText(tc.text); got != tc.want {
				t.Errorf("HTMLFromText(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestHTMLFromTextRoundTripNotEmpty(t *testing.T) {
	body := HTMLFromText("recovered draft")
	if IsEmptyHTML(body) {
		t.Errorf("synthesized body %q should not be meaningfully empty", body)
	}
	if !strings.Contains(body, "recovered draft") {
		t.Errorf("synthesized body %q lost its text", body)
	}
}
