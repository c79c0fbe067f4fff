// Package postprocess turns raw terminal model text plus the turn's
// accumulated citation URLs into the single IRC-safe line the orchestrator
// emits as its success event (spec.md §4.10).
package postprocess

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	markdownLinkRE    = regexp.MustCompile(`\[([^\]]*)\]\(([^)]+)\)`)
	bareDomainParenRE = regexp.MustCompile(`\(\s*[a-zA-Z0-9.-]+\.(?:com|org|net|io|gov|edu|co|dev)\s*\)`)
	sourcesLineRE     = regexp.MustCompile(`(?is)\n?\s*sources?:\s*.*$`)
	whitespaceRE      = regexp.MustCompile(`\s+`)
)

var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
}

// CleanURL drops utm_* tracking query parameters, for both citation
// dedup (Testable Property 8) and the Sources: appendix.
func CleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DedupCitations cleans and deduplicates citation urls, first occurrence
// wins, preserving order across turns (Testable Property 8).
func DedupCitations(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		clean := CleanURL(u)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}

// Render produces the final IRC-safe single-line string from the model's
// raw terminal text and the request's deduplicated citation urls.
func Render(raw string, citations []string) string {
	text := norm.NFC.String(raw)

	// 1. Strip inline markdown links to their label.
	text = markdownLinkRE.ReplaceAllString(text, "$1")

	// 2. Remove leftover parenthetical bare-domain artefacts.
	text = bareDomainParenRE.ReplaceAllString(text, "")

	// 3. Remove any self-authored Sources: section; a clean one is
	// re-appended below.
	text = sourcesLineRE.ReplaceAllString(text, "")

	// 4. Replace newlines with spaces, collapse whitespace runs, trim.
	text = strings.ReplaceAll(text, "\n", " ")
	text = whitespaceRE.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	// 5. Trim a single trailing period.
	text = strings.TrimSuffix(text, ".")

	// 6. Re-append a clean Sources: list if any citations survive.
	if len(citations) > 0 {
		text += " | Sources: " + strings.Join(citations, " , ")
	}
	return text
}
