package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// CommandHandler answers one /command invocation. It returns one or more
// lines: a single-value handler returns a length-1 slice, an iterable
// handler returns many (spec.md §4.9: "the stream variant accepts either an
// iterable handler or a single-value handler and wraps accordingly").
type CommandHandler func(ctx context.Context, args map[string]string) ([]string, error)

// CommandRegistry holds named command handlers, bypassing the reasoning
// loop entirely (spec.md §2: "Command requests bypass the reasoning loop
// and dispatch directly to Tool Implementations").
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{handlers: make(map[string]CommandHandler)}
}

func (r *CommandRegistry) Register(name string, h CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *CommandRegistry) Get(name string) (CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type commandRequest struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args"`
}

type commandResponse struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCommand implements POST /command: a single blocking response, the
// handler's lines joined by newlines.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, handler, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	lines, err := handler(r.Context(), req.Args)
	if err != nil {
		writeJSON(w, http.StatusOK, commandResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Status: "ok", Output: joinLines(lines)})
}

// handleCommandStream implements POST /command/stream: one ndjson frame per
// line the handler produced.
func (s *Server) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	req, handler, ok := s.decodeCommand(w, r)
	if !ok {
		return
	}
	setStreamingHeaders(w)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	lines, err := handler(r.Context(), req.Args)
	if err != nil {
		_ = enc.Encode(commandResponse{Status: "error", Error: err.Error()})
		return
	}
	for _, line := range lines {
		_ = enc.Encode(commandResponse{Status: "ok", Output: line})
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) decodeCommand(w http.ResponseWriter, r *http.Request) (commandRequest, CommandHandler, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return req, nil, false
	}
	if s.cfg.Commands == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown command %q", req.Command))
		return req, nil, false
	}
	handler, ok := s.cfg.Commands.Get(req.Command)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown command %q", req.Command))
		return req, nil, false
	}
	return req, handler, true
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
