package transport

import (
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// Inproc is an in-process EventSource. Pair returns two cross-connected
// ends; events emitted on one are received on the other. Payloads still go
// through the wire codec so both ends observe exactly what a remote peer
// would. Used by tests.
type Inproc struct {
	ctx  *middleware.Context
	peer chan [][]byte

	recv chan [][]byte

	closeOnce sync.Once
	closed    chan struct{}

	peerClosed chan struct{}
}

var _ channel.EventSource = (*Inproc)(nil)

// Pair creates two connected in-process sources. A nil ctx selects the
// process-wide default middleware context for both ends.
func Pair(ctx *middleware.Context) (*Inproc, *Inproc) {
	if ctx == nil {
		ctx = middleware.DefaultContext()
	}
	a := make(chan [][]byte, 1)
	b := make(chan [][]byte, 1)
	left := &Inproc{ctx: ctx, peer: a, recv: b, closed: make(chan struct{})}
	right := &Inproc{ctx: ctx, peer: b, recv: a, closed: make(chan struct{})}
	left.peerClosed = right.closed
	right.peerClosed = left.closed
	return left, right
}

// RecvSupported reports true; both ends are bidirectional.
func (s *Inproc) RecvSupported() bool { return true }

// EmitSupported reports true; both ends are bidirectional.
func (s *Inproc) EmitSupported() bool { return true }

// NewEvent creates an event stamped with this source's protocol version.
func (s *Inproc) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return event.New(name, args, s.ctx.Version(), xheader)
}

// Emit serializes the event and hands the frames to the peer.
func (s *Inproc) Emit(e *event.Event, timeout time.Duration) error {
	frames, err := event.EncodeFrames(e)
	if err != nil {
		return err
	}

	// Hand the frames over when there is room, before observing closure, so
	// a send racing a peer shutdown behaves deterministically.
	select {
	case s.peer <- frames:
		return nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case s.peer <- frames:
		return nil
	case <-s.closed:
		return channel.ErrSourceClosed
	case <-s.peerClosed:
		return channel.ErrSourceClosed
	case <-timer:
		return &rpcerr.TimeoutExpired{After: timeout, Hint: "emit " + e.Name}
	}
}

// Recv decodes the next frames handed over by the peer. Frames already in
// flight are drained before a peer closure is reported.
func (s *Inproc) Recv(timeout time.Duration) (*event.Event, error) {
	select {
	case frames := <-s.recv:
		return event.DecodeFrames(frames)
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case frames := <-s.recv:
		return event.DecodeFrames(frames)
	case <-s.closed:
		return nil, channel.ErrSourceClosed
	case <-s.peerClosed:
		return nil, channel.ErrSourceClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Close releases this end. The peer observes ErrSourceClosed on its next
// blocking Emit; pending frames already handed over are still received.
func (s *Inproc) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}
