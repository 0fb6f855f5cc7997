package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DisplayBlock describes one tool invocation for client rendering.
type DisplayBlock struct {
	Name     string
	Args     json.RawMessage
	Result   string
	Expanded bool
	IsError  bool
}

// Format renders the invocation as a <tool-call> block. Attributes use
// single quotes; the arguments JSON is re-indented with two spaces; both
// arguments and result are HTML-entity escaped.
func (b DisplayBlock) Format() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<tool-call data-tool='%s' data-expanded='%t'", b.Name, b.Expanded))
	if b.IsError {
		sb.WriteString(" data-error='true'")
	}
	sb.WriteString(">\n")

	sb.WriteString(fmt.Sprintf("Tool: %s\n", escapeEntities(b.Name)))

	sb.WriteString("Arguments:\n")
	sb.WriteString(escapeEntities(indentJSON(b.Args)))
	sb.WriteString("\n")

	if b.Result != "" {
		sb.WriteString("Result:\n")
		sb.WriteString(escapeEntities(b.Result))
		sb.WriteString("\n")
	}

	sb.WriteString("</tool-call>")
	return sb.String()
}

// indentJSON re-renders JSON with two-space indentation. Invalid JSON is
// passed through untouched.
func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// escapeEntities escapes &, <, and > as HTML entities. Ampersands go
// first so existing entities are not double-mangled further.
func escapeEntities(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
