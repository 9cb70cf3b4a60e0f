package rpc

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/hutch/pkg/rpcerr"
)

// ArgSpec describes one positional argument of a method, for introspection.
type ArgSpec struct {
	Name       string
	Default    any
	HasDefault bool
}

// Handler serves a single-reply method: it receives the decoded positional
// arguments and returns the reply value.
type Handler func(args []any) (any, error)

// StreamHandler serves a streamed method: every value passed to send becomes
// one stream item. Returning an error aborts the stream with an ERR event.
type StreamHandler func(args []any, send func(item any) error) error

// Method is one entry of a registry: the handler plus the metadata exposed
// through the introspection methods.
type Method struct {
	Name string
	Doc  string
	Args []ArgSpec

	handler       Handler
	streamHandler StreamHandler
}

// Streamed reports whether the method replies with a stream.
func (m *Method) Streamed() bool {
	return m.streamHandler != nil
}

// Registry maps method names to descriptors. The introspection methods
// (prefixed _zerorpc_) are injected at construction and answer from the
// live method table.
type Registry struct {
	name string

	mu      sync.RWMutex
	methods map[string]*Method
}

// NewRegistry creates a registry identified by name (surfaced through
// introspection).
func NewRegistry(name string) *Registry {
	r := &Registry{
		name:    name,
		methods: make(map[string]*Method),
	}
	r.injectBuiltins()
	return r
}

// Name returns the registry's introspection name.
func (r *Registry) Name() string { return r.name }

// Register adds a single-reply method.
func (r *Registry) Register(name, doc string, args []ArgSpec, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = &Method{Name: name, Doc: doc, Args: args, handler: fn}
}

// RegisterStream adds a streamed method.
func (r *Registry) RegisterStream(name, doc string, args []ArgSpec, fn StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = &Method{Name: name, Doc: doc, Args: args, streamHandler: fn}
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[name]
	return m, ok
}

// List returns the public method names, sorted. Names with a leading
// underscore are protocol plumbing and are excluded.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		if strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) injectBuiltins() {
	r.methods["_zerorpc_list"] = &Method{
		Name: "_zerorpc_list",
		handler: func([]any) (any, error) {
			return r.List(), nil
		},
	}
	r.methods["_zerorpc_name"] = &Method{
		Name: "_zerorpc_name",
		handler: func([]any) (any, error) {
			return r.name, nil
		},
	}
	r.methods["_zerorpc_ping"] = &Method{
		Name: "_zerorpc_ping",
		handler: func([]any) (any, error) {
			return []any{"pong", r.name}, nil
		},
	}
	r.methods["_zerorpc_help"] = &Method{
		Name: "_zerorpc_help",
		Args: []ArgSpec{{Name: "method"}},
		handler: func(args []any) (any, error) {
			m, err := r.lookupArg(args)
			if err != nil {
				return nil, err
			}
			return m.Doc, nil
		},
	}
	r.methods["_zerorpc_args"] = &Method{
		Name: "_zerorpc_args",
		Args: []ArgSpec{{Name: "method"}},
		handler: func(args []any) (any, error) {
			m, err := r.lookupArg(args)
			if err != nil {
				return nil, err
			}
			return argSpecList(m.Args), nil
		},
	}
	r.methods["_zerorpc_inspect"] = &Method{
		Name: "_zerorpc_inspect",
		handler: func([]any) (any, error) {
			return r.inspect(), nil
		},
	}
}

// inspect builds {name, methods: {m: {args: [{name, default?}...], doc}}}
// for every public method.
func (r *Registry) inspect() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make(map[string]any)
	for name, m := range r.methods {
		if strings.HasPrefix(name, "_") {
			continue
		}
		methods[name] = map[string]any{
			"args": argSpecList(m.Args),
			"doc":  m.Doc,
		}
	}
	return map[string]any{
		"name":    r.name,
		"methods": methods,
	}
}

func (r *Registry) lookupArg(args []any) (*Method, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected exactly one method name argument")
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("method name must be a string, got %T", args[0])
	}
	m, found := r.Lookup(name)
	if !found {
		return nil, &rpcerr.NameError{Name: name}
	}
	return m, nil
}

func argSpecList(specs []ArgSpec) []any {
	out := make([]any, 0, len(specs))
	for _, spec := range specs {
		entry := map[string]any{"name": spec.Name}
		if spec.HasDefault {
			entry["default"] = spec.Default
		}
		out = append(out, entry)
	}
	return out
}
