package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/rpcerr"
)

// fakeSource is an in-memory EventSource for exercising the channel stack
// without a transport.
type fakeSource struct {
	version int
	peer    chan *event.Event
	inbound chan *event.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePair() (*fakeSource, *fakeSource) {
	a := make(chan *event.Event, 16)
	b := make(chan *event.Event, 16)
	left := &fakeSource{version: event.ProtocolVersion, peer: a, inbound: b, closed: make(chan struct{})}
	right := &fakeSource{version: event.ProtocolVersion, peer: b, inbound: a, closed: make(chan struct{})}
	return left, right
}

func (s *fakeSource) RecvSupported() bool { return true }
func (s *fakeSource) EmitSupported() bool { return true }

func (s *fakeSource) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return event.New(name, args, s.version, xheader)
}

func (s *fakeSource) Emit(e *event.Event, timeout time.Duration) error {
	select {
	case s.peer <- e:
		return nil
	case <-s.closed:
		return ErrSourceClosed
	}
}

func (s *fakeSource) Recv(timeout time.Duration) (*event.Event, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case e := <-s.inbound:
		return e, nil
	case <-s.closed:
		return nil, ErrSourceClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// newBoundPair wires two bound channels over the fake transport and returns
// both ends plus a teardown. The binding handshake event is drained.
func newBoundPair(t *testing.T) (*Channel, *Channel, func()) {
	t.Helper()
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)

	chL := muxL.Channel(nil)
	if err := chL.Emit(chL.NewEvent("start", nil, nil), testTimeout); err != nil {
		t.Fatalf("emit handshake: %v", err)
	}
	initial, err := muxR.Recv(testTimeout)
	if err != nil {
		t.Fatalf("recv handshake: %v", err)
	}
	chR := muxR.Channel(initial)
	if _, err := chR.Recv(testTimeout); err != nil {
		t.Fatalf("drain handshake: %v", err)
	}

	return chL, chR, func() {
		muxL.Close()
		muxR.Close()
	}
}
