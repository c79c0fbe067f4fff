// Package orchestrator drives the multi-turn reasoning loop: it calls the
// language-model provider, dispatches any function calls it returns through
// the Tool Registry, and turns the resulting turns into a stream of caller
// events.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Tool is the uniform interface every capability (search, fetch, sandbox
// exec, images, knowledge base, IRC ops, reminders, ...) implements. The
// schema is authoritative: the orchestrator never validates arguments
// itself beyond JSON-parsing, and unknown field names are tolerated and
// discarded by each tool's own decoding.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ResultKind distinguishes the handful of ways a tool call can resolve.
// This replaces the original's string markers (<<STATUS_UPDATE>>,
// <<NULL_RESPONSE>>) with a typed sum; the markers survive only as the wire
// form the status-update/null-response tools use at the HTTP boundary.
type ResultKind int

const (
	ResultText ResultKind = iota
	ResultStatus
	ResultNull
	ResultError
)

// ToolResult is the outcome of one tool call. Text carries the payload for
// ResultText, ResultStatus (the status message), and ResultError (the error
// string fed back to the model); ResultNull carries nothing.
type ToolResult struct {
	Kind ResultKind
	Text string
}

func TextResult(s string) *ToolResult   { return &ToolResult{Kind: ResultText, Text: s} }
func StatusResult(s string) *ToolResult { return &ToolResult{Kind: ResultStatus, Text: s} }
func NullResult() *ToolResult           { return &ToolResult{Kind: ResultNull} }
func ErrorResult(s string) *ToolResult  { return &ToolResult{Kind: ResultError, Text: s} }

// ErrorResultf formats an error result the way the loop wraps tool panics
// and execute() errors: "Error executing tool: <msg>" (spec.md §7).
func ErrorResultf(format string, args ...any) *ToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// ToolRegistry holds the set of tools available to a request. It is
// read-only after Freeze; names are unique.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	frozen bool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool at startup. It panics on a duplicate name or a
// registration attempt after Freeze, since both indicate a wiring bug
// rather than a runtime condition.
func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("orchestrator: tool registry is frozen")
	}
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		panic("orchestrator: duplicate tool name " + name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
}

// Freeze marks the registry read-only; it is called once at startup after
// the enable-flags table has been applied.
func (r *ToolRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the provider-facing schema for every registered tool,
// in registration order (stable, so the prompt-prefix tool list is
// byte-stable across requests per Testable Property 1).
func (r *ToolRegistry) Definitions() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
