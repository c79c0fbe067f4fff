package orchestrator

import (
	"context"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// callCtx carries the caller identity the loop injects for every tool
// invocation of a given request (spec.md §4.1 step 4: "inject the user's
// permission level and identity ... for tools that require them"). Tools
// that need it read it back via CallerFromContext rather than through a
// dynamic-kwargs bag.
type callCtxKey struct{}

// Caller is the identity and authority of the request driving a tool call.
type Caller struct {
	Nick            string
	Channel         string
	RequestID       string
	PermissionLevel models.PermissionLevel
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callCtxKey{}, c)
}

// ContextWithCaller is the exported form of withCaller, for tools tested
// outside a live request loop and for entry points other than Loop.run that
// need to inject identity before invoking a tool directly.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return withCaller(ctx, c)
}

// CallerFromContext retrieves the identity injected by the orchestrator
// loop. Tools invoked outside a request (e.g. unit tests) see the zero
// Caller, which AtLeast/IsElevated treat as the lowest authority.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callCtxKey{}).(Caller)
	return c
}
