package rpc

import (
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// Stream iterates over a streamed reply. Usage follows the scanner idiom:
//
//	stream, err := client.CallStream("tail", path)
//	for stream.Next() {
//		item := stream.Value()
//	}
//	if err := stream.Err(); err != nil { ... }
//
// After the terminal event, Next reports false on every call; it never turns
// into a timeout. Close abandons an unfinished stream.
type Stream struct {
	c         *middleware.Context
	ch        middleware.CallChannel
	req       *event.Event
	pending   *event.Event
	timeout   time.Duration
	handleErr func(*event.Event) error

	cur  any
	err  error
	done bool
}

// Next advances to the next item. It returns false when the stream ended,
// normally or not; consult Err to distinguish.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}

	e := s.pending
	s.pending = nil
	if e == nil {
		var err error
		e, err = s.ch.Recv(s.timeout)
		if err != nil {
			s.finish(nil, err)
			return false
		}
	}

	switch e.Name {
	case event.NameStream:
		s.cur = collapseArgs(e.Args)
		return true
	case event.NameStreamDone:
		s.finish(e, nil)
		return false
	case event.NameErr:
		s.finish(e, s.handleErr(e))
		return false
	default:
		s.finish(e, &rpcerr.NameError{Name: e.Name})
		return false
	}
}

// Value returns the item produced by the last successful Next.
func (s *Stream) Value() any {
	return s.cur
}

// Err returns the error that terminated the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close abandons the stream and releases its channel. Safe after exhaustion.
func (s *Stream) Close() {
	if !s.done {
		s.done = true
	}
	s.ch.Close()
}

func (s *Stream) finish(reply *event.Event, err error) {
	s.done = true
	s.err = err
	s.c.HookClientAfterRequest(s.req, reply, err)
	s.ch.Close()
}
