package crawler

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Verdict is the detector's reading of a response body.
type Verdict struct {
	Blocked   bool
	LoginWall bool
}

var (
	blockPhrases = []string{
		"access denied",
		"attention required",
		"cloudflare",
		"bot detection",
	}
	signInPhrases = []string{
		"sign in",
		"sign-in",
		"log in",
		"log-in",
		"login",
	}
)

// HeuristicDetector recognizes bot walls and login walls. The body is first
// rendered to markdown so that scripts, styles, and attributes do not
// contribute matches.
type HeuristicDetector struct {
	md *converter.Converter
}

// NewHeuristicDetector constructs a HeuristicDetector.
func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Inspect classifies body. pageURL is used to resolve relative links during
// rendering and may be empty.
func (d *HeuristicDetector) Inspect(body, pageURL string) Verdict {
	if strings.TrimSpace(body) == "" {
		return Verdict{}
	}
	lower := strings.ToLower(d.render(body, pageURL))
	return Verdict{
		Blocked:   looksBotBlocked(lower),
		LoginWall: looksLoginWalled(lower),
	}
}

func (d *HeuristicDetector) render(body, pageURL string) string {
	if d == nil || d.md == nil {
		return body
	}
	out, err := d.md.ConvertString(body, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(out) == "" {
		return body
	}
	return out
}

func looksBotBlocked(lower string) bool {
	for _, p := range blockPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return strings.Contains(lower, "verify you are human") && strings.Contains(lower, "security")
}

func looksLoginWalled(lower string) bool {
	signIn := false
	for _, p := range signInPhrases {
		if strings.Contains(lower, p) {
			signIn = true
			break
		}
	}
	return signIn && (strings.Contains(lower, "password") || strings.Contains(lower, "account"))
}
