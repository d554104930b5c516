// ABOUTME: Markdown rendering for outgoing Matrix messages
// ABOUTME: Produces formatted_body HTML alongside the plain-text body

package bridge

import (
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
)

var markdown = goldmark.New()

// textMessage builds a Matrix message event with the markdown source as
// the plain body and the rendered HTML as the formatted body. Clients
// that cannot render HTML fall back to the markdown text, which stays
// readable.
func textMessage(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderHTML(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}

// renderHTML converts markdown to HTML. Returns ok=false when rendering
// fails or produces nothing, in which case the message goes out plain.
func renderHTML(text string) (string, bool) {
	var buf strings.Builder
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	html := strings.TrimSpace(buf.String())
	if html == "" {
		return "", false
	}
	return html, true
}
