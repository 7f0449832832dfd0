// Package extract turns fetched HTML into the plain text, primary heading, and
// absolute links consumed by the opportunity builder.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// strippedSelectors never contribute visible text.
const strippedSelectors = "script, style, noscript, svg, template"

// Link is an anchor resolved against the page URL.
type Link struct {
	URL  string
	Text string
}

// Page is the structured view of one HTML document.
type Page struct {
	Text  string
	H1    string
	Title string
	Links []Link
}

// Parse extracts text, heading, and resolved anchors from rawHTML. baseURL is
// used to resolve relative hrefs; anchors that cannot be resolved are dropped.
func Parse(rawHTML, baseURL string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strippedSelectors).Remove()

	page := Page{
		Text:  collectText(doc.Selection),
		H1:    NormalizeWhitespace(doc.Find("h1").First().Text()),
		Title: NormalizeWhitespace(doc.Find("title").First().Text()),
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, ok := ResolveURL(baseURL, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		page.Links = append(page.Links, Link{URL: abs, Text: NormalizeWhitespace(s.Text())})
	})
	return page, nil
}

// ExtractText returns the normalized visible text of rawHTML.
func ExtractText(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	doc.Find(strippedSelectors).Remove()
	return collectText(doc.Selection)
}

// ExtractH1 returns the text of the first <h1>, or "" if there is none.
func ExtractH1(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return NormalizeWhitespace(doc.Find("h1").First().Text())
}

// ResolveURL resolves href against base. It reports false for malformed
// input, empty hrefs, fragments, and non-http(s) schemes such as mailto:.
func ResolveURL(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// NormalizeWhitespace collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collectText walks the DOM so that adjacent block elements stay separated
// by whitespace, which goquery's Text() does not guarantee.
func collectText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return NormalizeWhitespace(b.String())
}
