// Package fetch implements the fetch_url tool (spec.md §4.4): retrieve a
// single URL, reject requests to private/blocked network space, and return
// a content-type driven rendering (HTML -> text with link-to-markdown,
// PDF -> page-tagged text, anything else -> as-is) capped at a fixed
// character budget.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/net/ssrf"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

// MaxOutputChars is the hard cap on returned content. Spec.md §4.4 requires
// truncation to be explicit rather than silent.
const MaxOutputChars = 25000

const truncationSuffix = "\n\n[TRUNCATED]"

// MaxBodyBytes bounds how much of the response body is read before any
// content-type parsing happens, independent of the post-extraction char cap.
const MaxBodyBytes = 10 * 1024 * 1024

// Config tunes the tool's HTTP client.
type Config struct {
	Timeout time.Duration
}

// Tool implements orchestrator.Tool for fetch_url.
type Tool struct {
	client *http.Client
}

// New builds a fetch_url tool with a hardened client: no following of
// redirects into private address space, bounded dial/handshake timeouts.
func New(cfg Config) *Tool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Tool{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				if err := ssrf.ValidatePublicHostname(req.URL.Hostname()); err != nil {
					return err
				}
				return nil
			},
		},
	}
}

func (t *Tool) Name() string { return "fetch_url" }

func (t *Tool) Description() string {
	return "Fetch a single web page or document by URL and return its readable content. " +
		"HTML is converted to plain text with links rendered as markdown; PDFs are returned " +
		"as page-tagged text. Refuses URLs that resolve to private, loopback, or link-local " +
		"addresses. Pass search_term to get the passage surrounding a specific phrase instead " +
		"of the full page when the content would otherwise be truncated."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Absolute http(s) URL to fetch"},
			"search_term": {"type": "string", "description": "If the page is long, return the passage around this phrase instead of the full text"}
		},
		"required": ["url"]
	}`)
}

type fetchParams struct {
	URL        string `json:"url"`
	SearchTerm string `json:"search_term"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p fetchParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.URL) == "" {
		return orchestrator.ErrorResult("url is required"), nil
	}

	text, title, err := t.Fetch(ctx, p.URL)
	if err != nil {
		return orchestrator.ErrorResult(err.Error()), nil
	}

	if p.SearchTerm != "" {
		if snippet, ok := excerptAround(text, p.SearchTerm); ok {
			text = snippet
		}
	}

	text = truncate(text, MaxOutputChars)

	var sb strings.Builder
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	sb.WriteString(text)

	return orchestrator.TextResult(sb.String()), nil
}

// Fetch retrieves rawURL and returns its content-type-dispatched rendering
// (text) and best-guess title, untruncated. It is exported so the knowledge
// base's kb_learn tool can reuse the exact same fetch-then-extract pipeline
// (spec.md §4.7: "fetch → extract(html|pdf|plain) → chunk → embed").
func (t *Tool) Fetch(ctx context.Context, rawURL string) (text, title string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", fmt.Errorf("unsupported or invalid url: %q", rawURL)
	}
	if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
		return "", "", fmt.Errorf("fetch refused: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; nexus-core/1.0; +https://github.com/haasonsaas/nexus-core)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("fetch failed: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > MaxBodyBytes {
		body = body[:MaxBodyBytes]
	}

	text, title, err = extractContent(resp.Header.Get("Content-Type"), u.String(), body)
	if err != nil {
		return "", "", fmt.Errorf("extract content: %w", err)
	}
	return text, title, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}

// excerptAround returns a window of text centered on the first occurrence of
// term (case-insensitive), used for Testable Scenario F's targeted re-fetch.
func excerptAround(text, term string) (string, bool) {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(term))
	if idx < 0 {
		return "", false
	}
	const window = 2000
	start := idx - window
	if start < 0 {
		start = 0
	}
	end := idx + len(term) + window
	if end > len(text) {
		end = len(text)
	}
	prefix, suffix := "", ""
	if start > 0 {
		prefix = "[...] "
	}
	if end < len(text) {
		suffix = " [...]"
	}
	return prefix + text[start:end] + suffix, true
}
