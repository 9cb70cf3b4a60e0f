package rpc

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/middleware"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/rs/zerolog"
)

// ServerConfig tunes a Server. The zero value selects the defaults.
type ServerConfig struct {
	// Name is the identity reported by the introspection methods.
	Name string

	// Context supplies the protocol version and middleware hooks. Nil
	// selects the process-wide default.
	Context *middleware.Context

	// PoolSize bounds concurrently served calls. Zero means unbounded.
	PoolSize int

	// Heartbeat is the liveness probe interval. Zero selects the default.
	Heartbeat time.Duration
}

// Server accepts initiating events from a multiplexer and serves each call
// on its own goroutine, composing the per-call channel stack: raw channel,
// heartbeat overlay, buffered flow-controlled channel.
type Server struct {
	mux       *channel.Multiplexer
	ctx       *middleware.Context
	registry  *Registry
	heartbeat time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}

	logger zerolog.Logger
}

// NewServer creates a server reading from source. The caller keeps the
// socket lifecycle (bind happens before, close happens through Server.Close).
func NewServer(source channel.EventSource, cfg ServerConfig) *Server {
	if cfg.Context == nil {
		cfg.Context = middleware.DefaultContext()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = channel.DefaultHeartbeatFreq
	}
	if cfg.Name == "" {
		cfg.Name = "hutch"
	}
	s := &Server{
		mux:       channel.NewMultiplexer(source, false),
		ctx:       cfg.Context,
		registry:  NewRegistry(cfg.Name),
		heartbeat: cfg.Heartbeat,
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("server"),
	}
	if cfg.PoolSize > 0 {
		s.sem = make(chan struct{}, cfg.PoolSize)
	}
	return s
}

// Register adds a single-reply method.
func (s *Server) Register(name, doc string, args []ArgSpec, fn Handler) {
	s.registry.Register(name, doc, args, fn)
}

// RegisterStream adds a streamed method.
func (s *Server) RegisterStream(name, doc string, args []ArgSpec, fn StreamHandler) {
	s.registry.RegisterStream(name, doc, args, fn)
}

// Run accepts calls until Stop or Close. It returns nil on a clean shutdown.
func (s *Server) Run() error {
	for {
		initial, err := s.mux.Recv(0)
		if err != nil {
			if errors.Is(err, channel.ErrSourceClosed) {
				return nil
			}
			return err
		}

		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			case <-s.stopCh:
				return nil
			}
		}
		s.wg.Add(1)
		go s.serveCall(initial)
	}
}

// Stop cancels the acceptor and waits for outstanding calls.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mux.Close()
	})
	s.wg.Wait()
}

// Close stops the server and releases the multiplexer and its source.
func (s *Server) Close() {
	s.Stop()
}

// serveCall drives one call: build the channel stack, drain the initial
// event through the buffered path, dispatch, and always tear the stack down.
func (s *Server) serveCall(initial *event.Event) {
	defer s.wg.Done()
	if s.sem != nil {
		defer func() { <-s.sem }()
	}

	legacy := initial.Version() < 2
	ch := s.mux.Channel(initial)
	hb := channel.NewHeartbeat(ch, s.heartbeat, legacy)
	bufchan := channel.NewBuffered(hb, 0)
	defer bufchan.Close()

	e, err := bufchan.Recv(0)
	if err != nil {
		s.logger.Debug().Err(err).Msg("call aborted before dispatch")
		return
	}

	s.ctx.HookLoadTaskContext(e.Header)

	timer := metrics.NewTimer()
	status := "ok"
	if err := s.dispatch(bufchan, e); err != nil {
		status = "error"
		if rpcerr.IsLostRemote(err) {
			// The peer is gone; nobody is listening for an error reply.
			log.WithMethod(e.Name).Warn().Err(err).Msg("abandoning call")
		} else {
			s.replyError(bufchan, e, err, legacy)
		}
	}
	metrics.CallsTotal.WithLabelValues(nameLabel(e.Name), status).Inc()
	timer.ObserveDurationVec(metrics.CallDuration, nameLabel(e.Name))
}

func (s *Server) dispatch(bufchan *channel.BufferedChannel, e *event.Event) error {
	m, found := s.registry.Lookup(e.Name)
	if !found {
		return &rpcerr.NameError{Name: e.Name}
	}

	s.ctx.HookServerBeforeExec(e)

	if m.Streamed() {
		err := invokeStream(m, e.Args, func(item any) error {
			ev := bufchan.NewEvent(event.NameStream, []any{item}, s.ctx.HookGetTaskContext())
			return bufchan.Emit(ev, 0)
		})
		if err != nil {
			return err
		}
		done := bufchan.NewEvent(event.NameStreamDone, nil, s.ctx.HookGetTaskContext())
		s.ctx.HookServerAfterExec(e, done)
		return bufchan.Emit(done, 0)
	}

	result, err := invoke(m, e.Args)
	if err != nil {
		return err
	}
	reply := bufchan.NewEvent(event.NameOK, replyArgs(result), s.ctx.HookGetTaskContext())
	s.ctx.HookServerAfterExec(e, reply)
	return bufchan.Emit(reply, 0)
}

// replyError encodes err per the peer's protocol version: a single
// human-readable string for legacy peers, the (name, message, traceback)
// triple otherwise.
func (s *Server) replyError(bufchan *channel.BufferedChannel, req *event.Event, err error, legacy bool) {
	log.WithMethod(req.Name).Error().Err(err).Msg("call failed")

	var args []any
	if legacy {
		args = []any{err.Error()}
	} else {
		args = []any{errorName(err), err.Error(), string(debug.Stack())}
	}
	reply := bufchan.NewEvent(event.NameErr, args, s.ctx.HookGetTaskContext())
	s.ctx.HookServerInspectException(req, reply, err)
	if emitErr := bufchan.Emit(reply, 0); emitErr != nil {
		s.logger.Debug().Err(emitErr).Msg("error reply not delivered")
	}
}

// invoke runs a reply handler, converting panics into errors so a broken
// method cannot take the worker down.
func invoke(m *Method, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.handler(args)
}

func invokeStream(m *Method, args []any, send func(any) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.streamHandler(args, send)
}

// replyArgs wraps a handler result as event args. A nil result becomes an
// empty OK, mirroring a method that returns nothing.
func replyArgs(result any) []any {
	if result == nil {
		return nil
	}
	return []any{result}
}

// errorName reports the error's concrete type name, the closest analogue of
// a remote exception class name. Wrapped remote errors keep their original
// name.
func errorName(err error) string {
	var remote *rpcerr.RemoteError
	if errors.As(err, &remote) {
		return remote.Name
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return fmt.Sprintf("%T", err)
	}
	return t.Name()
}

// nameLabel keeps introspection noise out of the per-method metrics.
func nameLabel(name string) string {
	if len(name) > 0 && name[0] == '_' {
		return "_internal"
	}
	return name
}
