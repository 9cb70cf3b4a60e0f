package rpc

import (
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/middleware"
)

// ReplyPattern completes a call with a single OK or ERR event.
type ReplyPattern struct{}

// AcceptAnswer reports whether the reply terminates a single-reply call.
func (*ReplyPattern) AcceptAnswer(reply *event.Event) bool {
	return reply.Name == event.NameOK || reply.Name == event.NameErr
}

// ProcessAnswer returns the call result, or the reconstructed remote error.
// The channel is released either way.
func (*ReplyPattern) ProcessAnswer(c *middleware.Context, ch middleware.CallChannel,
	req, reply *event.Event, timeout time.Duration,
	handleRemoteError func(*event.Event) error) (any, error) {

	defer ch.Close()
	if reply.Name == event.NameErr {
		err := handleRemoteError(reply)
		c.HookClientAfterRequest(req, reply, err)
		return nil, err
	}
	c.HookClientAfterRequest(req, reply, nil)
	return collapseArgs(reply.Args), nil
}

// StreamPattern completes a call with a sequence of STREAM events terminated
// by STREAM_DONE (or a mid-stream ERR).
type StreamPattern struct{}

// AcceptAnswer reports whether the reply opens (or terminates) a stream.
func (*StreamPattern) AcceptAnswer(reply *event.Event) bool {
	return reply.Name == event.NameStream || reply.Name == event.NameStreamDone
}

// ProcessAnswer returns a *Stream lazily driven by the channel. The channel
// closes itself when the terminal event is delivered, so an abandoned but
// fully-consumed stream does not leak.
func (*StreamPattern) ProcessAnswer(c *middleware.Context, ch middleware.CallChannel,
	req, reply *event.Event, timeout time.Duration,
	handleRemoteError func(*event.Event) error) (any, error) {

	ch.SetOnCloseIf(func(e *event.Event) bool {
		return e.Name == event.NameStreamDone
	})
	return &Stream{
		c:         c,
		ch:        ch,
		req:       req,
		pending:   reply,
		timeout:   timeout,
		handleErr: handleRemoteError,
	}, nil
}

// DefaultPatterns returns the built-in pattern table, checked in order.
func DefaultPatterns() []middleware.Pattern {
	return []middleware.Pattern{&StreamPattern{}, &ReplyPattern{}}
}

// collapseArgs mirrors the wire convention for results: a single argument is
// the value itself, several arguments are a tuple.
func collapseArgs(args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		return args
	}
}
