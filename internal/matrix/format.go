// ABOUTME: Renders markdown notices into Matrix message content with an HTML formatted_body
// ABOUTME: Uses goldmark with hard wraps so line breaks survive in clients that show HTML

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

var md = goldmark.New(
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts markdown to HTML. A lone paragraph is unwrapped so
// short notices render inline.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	out := strings.TrimSpace(buf.String())
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") &&
		strings.Count(out, "<p>") == 1 {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	return out, nil
}

// textContent builds a text message carrying both the markdown source and
// its HTML rendering. Rendering failures fall back to plain text.
func textContent(markdown string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    markdown,
	}
	if rendered, err := RenderHTML(markdown); err == nil && rendered != markdown {
		content.Format = event.FormatHTML
		content.FormattedBody = rendered
	}
	return content
}
