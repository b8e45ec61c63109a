package transport

import (
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

// telegramPolicy keeps only the tags Telegram's HTML parse mode
// accepts; everything else is stripped down to its text.
var telegramPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg")
	return p
}()

// renderHTML converts model markdown into Telegram-safe HTML. Returns
// the empty string when nothing survives sanitization, in which case
// the caller should fall back to plain text.
func renderHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	rendered := markdown.ToHTML([]byte(md), p, renderer)

	sanitized := strings.TrimSpace(telegramPolicy.Sanitize(string(rendered)))
	return sanitized
}
