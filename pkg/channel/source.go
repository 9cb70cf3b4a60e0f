package channel

import (
	"errors"
	"time"

	"github.com/cuemby/hutch/pkg/event"
)

// ErrSourceClosed is returned by EventSource implementations after Close.
var ErrSourceClosed = errors.New("event source closed")

// ErrChannelClosed is returned by Channel.Recv after the channel was closed
// and its queue drained.
var ErrChannelClosed = errors.New("channel closed")

// EventSource is the transport adapter a multiplexer reads from and writes
// to. Implementations live in pkg/transport; tests use the in-process pair.
//
// Recv is called only by the multiplexer's dispatcher. Emit may be called
// from any goroutine; implementations must serialize sends if the underlying
// transport is not safe for concurrent use. A timeout <= 0 blocks until the
// operation completes or the source is closed.
type EventSource interface {
	Recv(timeout time.Duration) (*event.Event, error)
	Emit(e *event.Event, timeout time.Duration) error

	// NewEvent creates an event with a fresh message id, the source's
	// protocol version and the supplied task-context keys.
	NewEvent(name string, args []any, xheader map[string]any) *event.Event

	// RecvSupported reports whether the underlying socket can receive
	// (false for PUSH and PUB sockets).
	RecvSupported() bool

	// EmitSupported reports whether the underlying socket can send
	// (false for PULL and SUB sockets).
	EmitSupported() bool

	Close() error
}
