// Package prompt assembles the single text prompt sent to the provider on
// a request's first turn (spec.md §4.2): a byte-stable prefix (system
// prompt, deep-mode preamble, user memory) followed by a per-request tail
// (the current question and recent history) that never perturbs the
// prefix, so prompt-prefix caching survives conversation churn.
package prompt

import (
	"fmt"
	"strings"
)

// Builder assembles ordered, named sections. It enforces prefix-stability
// structurally rather than by convention: once the first tail section is
// added, any further attempt to add a prefix section panics, since that
// would mean a section reading request-varying input got placed before the
// closed, cacheable prefix (spec.md §4.2, Testable Property 1).
type Builder struct {
	prefix []section
	tail   []section
	sealed bool
}

type section struct {
	name string
	text string
}

// Prefix appends a section that MUST be computed only from request-stable
// inputs (the static system prompt, the deep-mode flag, the user's memory
// entries) — never from the message, history, or current timestamp.
func (b *Builder) Prefix(name, text string) *Builder {
	if b.sealed {
		panic(fmt.Sprintf("prompt: cannot add prefix section %q after a tail section has been added", name))
	}
	if text != "" {
		b.prefix = append(b.prefix, section{name, text})
	}
	return b
}

// Tail appends a per-request section (current question, recent history,
// final instruction) and seals the prefix against further mutation.
func (b *Builder) Tail(name, text string) *Builder {
	b.sealed = true
	if text != "" {
		b.tail = append(b.tail, section{name, text})
	}
	return b
}

// PrefixBytes returns the assembled prefix alone, the byte range Testable
// Property 1 requires to be identical across requests with identical
// inputs.
func (b *Builder) PrefixBytes() string {
	return join(b.prefix)
}

// String returns the full assembled prompt: prefix then tail, each section
// separated by a blank line.
func (b *Builder) String() string {
	all := append(append([]section{}, b.prefix...), b.tail...)
	return join(all)
}

func join(secs []section) string {
	parts := make([]string, 0, len(secs))
	for _, s := range secs {
		parts = append(parts, s.text)
	}
	return strings.Join(parts, "\n\n")
}
