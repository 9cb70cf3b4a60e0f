package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is the default inbound buffer, and therefore the maximum
// aggregate credit ever granted to the peer of one call.
const DefaultQueueSize = 100

// Endpoint is the channel surface BufferedChannel wraps: a raw Channel or,
// normally, a HeartbeatChannel.
type Endpoint interface {
	NewEvent(name string, args []any, xheader map[string]any) *event.Event
	Emit(e *event.Event, timeout time.Duration) error
	Recv(timeout time.Duration) (*event.Event, error)
	Close()
}

// BufferedChannel adds bounded inbound queueing and credit-based flow
// control on top of an Endpoint. The peer may send one event up front; every
// further slot must be granted through a credit event. Symmetrically,
// outbound sends block while the peer has granted no slots.
type BufferedChannel struct {
	ch   Endpoint
	size int

	mu         sync.Mutex
	reserved   int // local slots promised to the peer, not yet consumed
	remoteOpen int // slots we may still use at the peer
	verbose    bool
	onCloseIf  func(*event.Event) bool

	canSend chan struct{}
	queue   chan *event.Event

	failedOnce sync.Once
	failed     chan struct{}
	failure    error

	closeOnce sync.Once
	closedCh  chan struct{}

	logger zerolog.Logger
}

// NewBuffered wraps ch with an inbound buffer of queueSize events
// (DefaultQueueSize when <= 0). The receiver goroutine starts immediately.
func NewBuffered(ch Endpoint, queueSize int) *BufferedChannel {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &BufferedChannel{
		ch:         ch,
		size:       queueSize,
		reserved:   1,
		remoteOpen: 1,
		canSend:    make(chan struct{}, 1),
		queue:      make(chan *event.Event, queueSize),
		failed:     make(chan struct{}),
		closedCh:   make(chan struct{}),
		logger:     log.WithComponent("bufchan"),
	}
	go b.receiver()
	return b
}

// NewEvent delegates to the wrapped channel.
func (b *BufferedChannel) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return b.ch.NewEvent(name, args, xheader)
}

// SetOnCloseIf installs a predicate checked against every delivered event;
// when it returns true the channel closes itself after the delivery. The
// client stream pattern uses it to tear the call down on the terminal event.
func (b *BufferedChannel) SetOnCloseIf(predicate func(*event.Event) bool) {
	b.mu.Lock()
	b.onCloseIf = predicate
	b.mu.Unlock()
}

// Emit sends the event, consuming one remote slot. When no slots remain it
// blocks until the peer re-credits us, the call fails, or timeout elapses.
// The slot is restored if the send itself fails.
func (b *BufferedChannel) Emit(e *event.Event, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	b.mu.Lock()
	for b.remoteOpen == 0 {
		b.mu.Unlock()
		select {
		case <-b.canSend:
		case <-b.failed:
			return b.failure
		case <-b.closedCh:
			return ErrChannelClosed
		case <-timer:
			return &rpcerr.TimeoutExpired{After: timeout}
		}
		b.mu.Lock()
	}
	b.remoteOpen--
	b.mu.Unlock()

	if err := b.ch.Emit(e, timeout); err != nil {
		b.mu.Lock()
		b.remoteOpen++
		b.mu.Unlock()
		return err
	}
	return nil
}

// Recv dequeues the next inbound event. From the second call on, it tops up
// the peer's credit whenever more than half of the local queue has been
// consumed.
func (b *BufferedChannel) Recv(timeout time.Duration) (*event.Event, error) {
	b.mu.Lock()
	if b.verbose {
		if b.reserved < b.size/2 {
			open := b.size - b.reserved
			b.reserved += open
			b.mu.Unlock()
			grant := b.ch.NewEvent(event.NameMore, []any{open}, nil)
			if err := b.ch.Emit(grant, timeout); err != nil {
				b.logger.Debug().Err(err).Msg("credit grant failed")
			}
			b.mu.Lock()
		}
	} else {
		b.verbose = true
	}
	b.mu.Unlock()

	// Drain buffered events before observing closure, so events delivered
	// ahead of a self-close (stream teardown) are not lost.
	select {
	case e := <-b.queue:
		b.mu.Lock()
		b.reserved--
		b.mu.Unlock()
		return e, nil
	default:
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case e := <-b.queue:
		b.mu.Lock()
		b.reserved--
		b.mu.Unlock()
		return e, nil
	case <-b.failed:
		return nil, b.failure
	case <-b.closedCh:
		return nil, ErrChannelClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Close terminates the receiver and cascades to the wrapped channel (and
// through it to the raw channel). Idempotent.
func (b *BufferedChannel) Close() {
	b.closeOnce.Do(func() {
		close(b.closedCh)
		b.ch.Close()
	})
}

// receiver drains the wrapped channel: credit grants update the sender-side
// accounting and are never surfaced; data events go into the local queue,
// which the peer must never overflow.
func (b *BufferedChannel) receiver() {
	for {
		e, err := b.ch.Recv(0)
		if err != nil {
			if !errors.Is(err, ErrChannelClosed) {
				b.fail(err)
			}
			return
		}

		if e.Name == event.NameMore {
			n, err := creditArg(e)
			if err != nil {
				b.logger.Error().Err(err).Msg("malformed credit grant")
				continue
			}
			b.mu.Lock()
			b.remoteOpen += n
			open := b.remoteOpen
			b.mu.Unlock()
			if open > 0 {
				select {
				case b.canSend <- struct{}{}:
				default:
				}
			}
			continue
		}

		if len(b.queue) == b.size {
			b.fail(&rpcerr.QueueOverflow{Event: e.Name})
			return
		}
		b.queue <- e

		b.mu.Lock()
		closeNow := b.onCloseIf != nil && b.onCloseIf(e)
		b.mu.Unlock()
		if closeNow {
			b.Close()
			return
		}
	}
}

func (b *BufferedChannel) fail(err error) {
	b.failedOnce.Do(func() {
		b.failure = err
		close(b.failed)
	})
}

func creditArg(e *event.Event) (int, error) {
	if len(e.Args) != 1 {
		return 0, errors.New("credit grant must carry exactly one argument")
	}
	switch n := e.Args[0].(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	default:
		return 0, errors.New("credit grant argument is not an integer")
	}
}
