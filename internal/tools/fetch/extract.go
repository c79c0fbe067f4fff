package fetch

import (
	"bytes"
	"fmt"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// extractContent dispatches on the response content-type: HTML is rendered
// to plain text with links turned into markdown, PDFs are rendered as
// page-tagged text, everything else (plain text, JSON, code) passes through
// unmodified.
func extractContent(contentType, sourceURL string, body []byte) (text, title string, err error) {
	mediaType := contentType
	if parsed, _, perr := mime.ParseMediaType(contentType); perr == nil {
		mediaType = parsed
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))

	switch {
	case strings.Contains(mediaType, "html"):
		return extractHTML(body)
	case strings.Contains(mediaType, "pdf") || strings.HasSuffix(strings.ToLower(sourceURL), ".pdf"):
		t, e := extractPDF(body)
		return t, "", e
	default:
		return string(body), "", nil
	}
}

var blockTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "header": true, "footer": true, "aside": true, "svg": true,
}

// extractHTML walks the parsed document, dropping chrome-ish elements and
// rendering links as markdown so the model can still follow references in
// plain text.
func extractHTML(body []byte) (text, title string, err error) {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node, skip bool)
	walk = func(n *html.Node, skip bool) {
		if n.Type == html.ElementNode {
			if n.Data == "title" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			if blockTags[n.Data] {
				return
			}
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			label := strings.TrimSpace(textContent(n))
			if href != "" && label != "" {
				sb.WriteString(fmt.Sprintf("[%s](%s) ", label, href))
				return
			}
		}
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		}
	}
	walk(doc, false)

	return collapseBlankLines(sb.String()), title, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// extractPDF renders the document's text tagged with its page count. The
// underlying reader exposes plain-text extraction at document granularity,
// not per-page, so the tag is a header rather than inline page markers.
func extractPDF(body []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	header := fmt.Sprintf("--- pdf, %d page(s) ---\n", r.NumPage())
	return header + strings.TrimSpace(buf.String()), nil
}
