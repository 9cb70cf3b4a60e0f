package middleware

import (
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/event"
)

// CallChannel is the view of a buffered call channel that patterns and hooks
// operate on. *channel.BufferedChannel implements it.
type CallChannel interface {
	NewEvent(name string, args []any, xheader map[string]any) *event.Event
	Emit(e *event.Event, timeout time.Duration) error
	Recv(timeout time.Duration) (*event.Event, error)
	SetOnCloseIf(predicate func(*event.Event) bool)
	Close()
}

// Pattern decides how a reply event completes a call on the client side.
// The default table covers single-reply and streamed calls; middleware can
// extend or replace it through the ClientPatternsList hook.
type Pattern interface {
	// AcceptAnswer reports whether this pattern handles the reply event.
	AcceptAnswer(reply *event.Event) bool

	// ProcessAnswer drives the call to completion and returns its result.
	// handleRemoteError converts an ERR event into the error to surface.
	ProcessAnswer(c *Context, ch CallChannel, req, reply *event.Event,
		timeout time.Duration, handleRemoteError func(*event.Event) error) (any, error)
}

// Middleware contributes a subset of hooks. Nil fields are skipped.
// Hooks with return values apply first-non-nil in registration order; the
// others run for side effect in registration order.
type Middleware struct {
	// ResolveEndpoint may rewrite an endpoint before bind/connect.
	// Returning "" leaves the endpoint to the next middleware.
	ResolveEndpoint func(endpoint string) string

	// ClientBeforeRequest runs after the request event is constructed,
	// before it is sent.
	ClientBeforeRequest func(req *event.Event)

	// ClientAfterRequest runs on completion or failure of a call. reply is
	// nil when no reply was received (timeout, lost remote).
	ClientAfterRequest func(req, reply *event.Event, err error)

	// ClientHandleRemoteError converts an ERR event into an error. The
	// first middleware returning non-nil wins.
	ClientHandleRemoteError func(reply *event.Event) error

	// ClientPatternsList may extend or override the pattern table. The
	// first middleware returning a non-nil slice wins.
	ClientPatternsList func(defaults []Pattern) []Pattern

	// ServerBeforeExec runs before the user method is invoked.
	ServerBeforeExec func(req *event.Event)

	// ServerAfterExec runs after a successful user method. reply is the
	// OK event, or the STREAM_DONE event for streamed calls, or nil when
	// the call produced no reply (push/pull delivery).
	ServerAfterExec func(req, reply *event.Event)

	// ServerInspectException runs on a server-side failure, before the ERR
	// reply (if any) is emitted. reply is nil for one-way deliveries.
	ServerInspectException func(req, reply *event.Event, err error)

	// GetTaskContext populates headers on outbound events. The first
	// middleware returning a non-nil mapping wins.
	GetTaskContext func() map[string]any

	// LoadTaskContext receives headers from inbound events.
	LoadTaskContext func(header map[string]any)
}

// Context carries the protocol version and the registered middleware list.
// A process-wide default is available through DefaultContext; callers that
// need isolation (tests, embedded clients) create their own.
type Context struct {
	mu          sync.RWMutex
	version     int
	middlewares []*Middleware
}

var (
	defaultContext     *Context
	defaultContextOnce sync.Once
)

// NewContext creates a context announcing the current protocol version.
func NewContext() *Context {
	return &Context{version: event.ProtocolVersion}
}

// DefaultContext returns the shared process-wide context.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		defaultContext = NewContext()
	})
	return defaultContext
}

// Version returns the protocol version stamped on events created under this
// context.
func (c *Context) Version() int {
	return c.version
}

// Register appends a middleware. Registration order is invocation order.
func (c *Context) Register(m *Middleware) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
}

func (c *Context) snapshot() []*Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.middlewares
}

// HookResolveEndpoint returns the first non-empty rewrite, or the endpoint
// unchanged.
func (c *Context) HookResolveEndpoint(endpoint string) string {
	for _, m := range c.snapshot() {
		if m.ResolveEndpoint == nil {
			continue
		}
		if resolved := m.ResolveEndpoint(endpoint); resolved != "" {
			return resolved
		}
	}
	return endpoint
}

// HookClientBeforeRequest invokes every ClientBeforeRequest hook in order.
func (c *Context) HookClientBeforeRequest(req *event.Event) {
	for _, m := range c.snapshot() {
		if m.ClientBeforeRequest != nil {
			m.ClientBeforeRequest(req)
		}
	}
}

// HookClientAfterRequest invokes every ClientAfterRequest hook in order.
func (c *Context) HookClientAfterRequest(req, reply *event.Event, err error) {
	for _, m := range c.snapshot() {
		if m.ClientAfterRequest != nil {
			m.ClientAfterRequest(req, reply, err)
		}
	}
}

// HookClientHandleRemoteError returns the first non-nil conversion of an ERR
// event, or nil when no middleware claims it.
func (c *Context) HookClientHandleRemoteError(reply *event.Event) error {
	for _, m := range c.snapshot() {
		if m.ClientHandleRemoteError == nil {
			continue
		}
		if err := m.ClientHandleRemoteError(reply); err != nil {
			return err
		}
	}
	return nil
}

// HookClientPatternsList returns the first non-nil pattern table, or the
// defaults.
func (c *Context) HookClientPatternsList(defaults []Pattern) []Pattern {
	for _, m := range c.snapshot() {
		if m.ClientPatternsList == nil {
			continue
		}
		if patterns := m.ClientPatternsList(defaults); patterns != nil {
			return patterns
		}
	}
	return defaults
}

// HookServerBeforeExec invokes every ServerBeforeExec hook in order.
func (c *Context) HookServerBeforeExec(req *event.Event) {
	for _, m := range c.snapshot() {
		if m.ServerBeforeExec != nil {
			m.ServerBeforeExec(req)
		}
	}
}

// HookServerAfterExec invokes every ServerAfterExec hook in order.
func (c *Context) HookServerAfterExec(req, reply *event.Event) {
	for _, m := range c.snapshot() {
		if m.ServerAfterExec != nil {
			m.ServerAfterExec(req, reply)
		}
	}
}

// HookServerInspectException invokes every ServerInspectException hook in
// order.
func (c *Context) HookServerInspectException(req, reply *event.Event, err error) {
	for _, m := range c.snapshot() {
		if m.ServerInspectException != nil {
			m.ServerInspectException(req, reply, err)
		}
	}
}

// HookGetTaskContext returns the first non-nil task context mapping, or nil.
func (c *Context) HookGetTaskContext() map[string]any {
	for _, m := range c.snapshot() {
		if m.GetTaskContext == nil {
			continue
		}
		if xheader := m.GetTaskContext(); xheader != nil {
			return xheader
		}
	}
	return nil
}

// HookLoadTaskContext invokes every LoadTaskContext hook in order.
func (c *Context) HookLoadTaskContext(header map[string]any) {
	for _, m := range c.snapshot() {
		if m.LoadTaskContext != nil {
			m.LoadTaskContext(header)
		}
	}
}

// ForkTaskContext wraps fn so that the task context captured at fork time is
// loaded inside the goroutine running fn. Use it when spawning a goroutine
// that will make calls on behalf of the current task:
//
//	go middleware.ForkTaskContext(ctx, func() { client.Call(...) })()
func ForkTaskContext(c *Context, fn func()) func() {
	if c == nil {
		c = DefaultContext()
	}
	xheader := c.HookGetTaskContext()
	return func() {
		c.HookLoadTaskContext(xheader)
		fn()
	}
}
