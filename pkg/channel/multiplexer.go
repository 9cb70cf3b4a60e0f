package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/rs/zerolog"
)

// Multiplexer is the single reader of one EventSource. A dedicated
// dispatcher goroutine routes every inbound event to the channel named by
// its response_to header; events without one go to a capacity-1 broadcast
// queue (unless the multiplexer was created with ignoreBroadcast).
type Multiplexer struct {
	source EventSource

	mu     sync.Mutex
	active map[string]*Channel

	broadcast chan *event.Event

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger zerolog.Logger
}

// NewMultiplexer creates a multiplexer owning source. The dispatcher starts
// immediately when the source supports receiving. Clients pass
// ignoreBroadcast since every event they expect is a reply.
func NewMultiplexer(source EventSource, ignoreBroadcast bool) *Multiplexer {
	m := &Multiplexer{
		source: source,
		active: make(map[string]*Channel),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithComponent("multiplexer"),
	}
	if source.RecvSupported() {
		if !ignoreBroadcast {
			m.broadcast = make(chan *event.Event, 1)
		}
		go m.dispatch()
	} else {
		close(m.done)
	}
	return m
}

// RecvSupported reports whether the underlying source can receive.
func (m *Multiplexer) RecvSupported() bool { return m.source.RecvSupported() }

// EmitSupported reports whether the underlying source can send.
func (m *Multiplexer) EmitSupported() bool { return m.source.EmitSupported() }

// NewEvent delegates event creation to the source.
func (m *Multiplexer) NewEvent(name string, args []any, xheader map[string]any) *event.Event {
	return m.source.NewEvent(name, args, xheader)
}

// Emit sends the event on the source. Sends from concurrent channels are
// serialized by the source.
func (m *Multiplexer) Emit(e *event.Event, timeout time.Duration) error {
	if err := m.source.Emit(e, timeout); err != nil {
		return err
	}
	metrics.EventsSent.WithLabelValues(nameClass(e.Name)).Inc()
	return nil
}

// Recv returns the next unrouted (broadcast) event. This is how a server's
// acceptor observes initiating events.
func (m *Multiplexer) Recv(timeout time.Duration) (*event.Event, error) {
	if m.broadcast == nil {
		return m.source.Recv(timeout)
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case e := <-m.broadcast:
		return e, nil
	case <-m.stopCh:
		return nil, ErrSourceClosed
	case <-timer:
		return nil, &rpcerr.TimeoutExpired{After: timeout}
	}
}

// Channel creates a logical call channel. When fromEvent is supplied the
// channel is bound to its message id and peer identity and the event is
// pre-seeded into the channel's queue; otherwise the channel binds lazily on
// its first created event.
func (m *Multiplexer) Channel(fromEvent *event.Event) *Channel {
	c := &Channel{
		mux:    m,
		queue:  make(chan *event.Event, 1),
		closed: make(chan struct{}),
	}
	if fromEvent != nil {
		c.id = fromEvent.MessageID()
		c.identity = fromEvent.Identity
		m.register(c)
		c.queue <- fromEvent
	}
	return c
}

// Close terminates the dispatcher, closes the source and releases the
// active-channels map. Idempotent.
func (m *Multiplexer) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if err := m.source.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("closing event source")
		}
		<-m.done
		m.mu.Lock()
		m.active = make(map[string]*Channel)
		m.mu.Unlock()
	})
}

func (m *Multiplexer) register(c *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[c.id] = c
	metrics.ActiveChannels.Set(float64(len(m.active)))
}

func (m *Multiplexer) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	metrics.ActiveChannels.Set(float64(len(m.active)))
}

func (m *Multiplexer) lookup(id string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

// dispatch is the only reader on the source. A malformed frame must not kill
// it: transient receive errors are logged and suppressed.
func (m *Multiplexer) dispatch() {
	defer close(m.done)
	for {
		e, err := m.source.Recv(0)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) {
				return
			}
			select {
			case <-m.stopCh:
				return
			default:
			}
			m.logger.Error().Err(err).Msg("ignoring error on recv")
			continue
		}
		metrics.EventsReceived.WithLabelValues(nameClass(e.Name)).Inc()

		if id := e.ResponseTo(); id != "" {
			c := m.lookup(id)
			if c == nil {
				m.logger.Warn().Str("event", e.String()).Msg("unable to route event")
				continue
			}
			select {
			case c.queue <- e:
			case <-c.closed:
				m.logger.Debug().Str("event", e.String()).Msg("dropping event for closed channel")
			case <-m.stopCh:
				return
			}
			continue
		}

		if m.broadcast != nil {
			select {
			case m.broadcast <- e:
			case <-m.stopCh:
				return
			}
			continue
		}

		m.logger.Warn().Str("event", e.String()).Msg("unable to route event")
	}
}

// nameClass buckets event names for metrics so user method names do not
// explode label cardinality.
func nameClass(name string) string {
	switch name {
	case event.NameHeartbeat:
		return "heartbeat"
	case event.NameMore:
		return "credit"
	case event.NameOK, event.NameErr, event.NameStream, event.NameStreamDone:
		return "reply"
	default:
		return "request"
	}
}
