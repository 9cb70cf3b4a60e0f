package rpc

import (
	"errors"
	"sync"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/rs/zerolog"
)

// Pusher is the emit-only facade over a PUSH (or PUB) socket: fire-and-forget
// delivery with no reply channel and no flow control beyond the transport's.
type Pusher struct {
	source channel.EventSource
	ctx    *middleware.Context
}

// NewPusher creates a pusher emitting on source. A nil ctx selects the
// process-wide default.
func NewPusher(source channel.EventSource, ctx *middleware.Context) *Pusher {
	if ctx == nil {
		ctx = middleware.DefaultContext()
	}
	return &Pusher{source: source, ctx: ctx}
}

// Push delivers one event named after the remote method. The task context is
// carried in the header exactly as on a request/reply call.
func (p *Pusher) Push(method string, args ...any) error {
	e := p.source.NewEvent(method, args, p.ctx.HookGetTaskContext())
	return p.source.Emit(e, 0)
}

// Close releases the source.
func (p *Pusher) Close() error {
	return p.source.Close()
}

// Publisher is a Pusher bound to a PUB socket; every connected subscriber
// receives each event.
type Publisher = Pusher

// NewPublisher creates a publisher emitting on source.
func NewPublisher(source channel.EventSource, ctx *middleware.Context) *Publisher {
	return NewPusher(source, ctx)
}

// Puller is the receive-only counterpart: a loop dispatching inbound events
// to registered handlers. There is no reply to send, so handler results are
// discarded and failures only feed the exception hooks and the log.
type Puller struct {
	source channel.EventSource
	ctx    *middleware.Context

	mu      sync.RWMutex
	methods map[string]Handler

	stopOnce sync.Once
	stopCh   chan struct{}

	logger zerolog.Logger
}

// NewPuller creates a puller reading from source. A nil ctx selects the
// process-wide default.
func NewPuller(source channel.EventSource, ctx *middleware.Context) *Puller {
	if ctx == nil {
		ctx = middleware.DefaultContext()
	}
	return &Puller{
		source:  source,
		ctx:     ctx,
		methods: make(map[string]Handler),
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("puller"),
	}
}

// Register adds a handler for one-way deliveries of method.
func (p *Puller) Register(method string, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods[method] = fn
}

// Run receives and dispatches until Stop or Close. It returns nil on a
// clean shutdown.
func (p *Puller) Run() error {
	for {
		e, err := p.source.Recv(0)
		if err != nil {
			if errors.Is(err, channel.ErrSourceClosed) {
				return nil
			}
			select {
			case <-p.stopCh:
				return nil
			default:
			}
			p.logger.Error().Err(err).Msg("ignoring error on recv")
			continue
		}

		p.mu.RLock()
		fn := p.methods[e.Name]
		p.mu.RUnlock()

		if fn == nil {
			err := &rpcerr.NameError{Name: e.Name}
			p.ctx.HookServerInspectException(e, nil, err)
			p.logger.Warn().Str("method", e.Name).Msg("no handler for delivery")
			continue
		}

		p.ctx.HookLoadTaskContext(e.Header)
		p.ctx.HookServerBeforeExec(e)
		if _, err := invoke(&Method{Name: e.Name, handler: fn}, e.Args); err != nil {
			p.ctx.HookServerInspectException(e, nil, err)
			log.WithMethod(e.Name).Error().Err(err).Msg("delivery handler failed")
			continue
		}
		p.ctx.HookServerAfterExec(e, nil)
	}
}

// Stop cancels the receive loop.
func (p *Puller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.source.Close()
	})
}

// Close stops the puller and releases the source.
func (p *Puller) Close() {
	p.Stop()
}

// Subscriber is a Puller bound to a SUB socket subscribed to everything.
type Subscriber = Puller

// NewSubscriber creates a subscriber reading from source.
func NewSubscriber(source channel.EventSource, ctx *middleware.Context) *Subscriber {
	return NewPuller(source, ctx)
}
