package rpc

import (
	"errors"
	"testing"

	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := NewRegistry("TestAPI")
	r.Register("hello", "a test", []ArgSpec{{Name: "name"}},
		func(args []any) (any, error) { return "hi", nil })
	r.Register("add", "add numbers", []ArgSpec{
		{Name: "a"},
		{Name: "b", Default: 1, HasDefault: true},
	}, func(args []any) (any, error) { return nil, nil })
	r.RegisterStream("feed", "a stream", nil,
		func(args []any, send func(any) error) error { return nil })
	return r
}

func TestRegistryList(t *testing.T) {
	r := newTestRegistry()

	m, ok := r.Lookup("_zerorpc_list")
	require.True(t, ok)
	result, err := m.handler(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "feed", "hello"}, result)
}

func TestRegistryName(t *testing.T) {
	r := newTestRegistry()

	m, _ := r.Lookup("_zerorpc_name")
	result, err := m.handler(nil)
	require.NoError(t, err)
	assert.Equal(t, "TestAPI", result)
}

func TestRegistryHelp(t *testing.T) {
	r := newTestRegistry()

	m, _ := r.Lookup("_zerorpc_help")
	result, err := m.handler([]any{"hello"})
	require.NoError(t, err)
	assert.Equal(t, "a test", result)

	_, err = m.handler([]any{"missing"})
	var nameErr *rpcerr.NameError
	assert.True(t, errors.As(err, &nameErr))
}

func TestRegistryArgs(t *testing.T) {
	r := newTestRegistry()

	m, _ := r.Lookup("_zerorpc_args")
	result, err := m.handler([]any{"add"})
	require.NoError(t, err)

	specs, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, specs, 2)
	assert.Equal(t, map[string]any{"name": "a"}, specs[0])
	assert.Equal(t, map[string]any{"name": "b", "default": 1}, specs[1])
}

func TestRegistryInspect(t *testing.T) {
	r := newTestRegistry()

	m, _ := r.Lookup("_zerorpc_inspect")
	result, err := m.handler(nil)
	require.NoError(t, err)

	inspect := result.(map[string]any)
	assert.Equal(t, "TestAPI", inspect["name"])

	methods := inspect["methods"].(map[string]any)
	assert.Len(t, methods, 3)
	// introspection methods never inspect themselves
	for name := range methods {
		assert.NotContains(t, name, "_zerorpc_")
	}
}

func TestRegistryStreamed(t *testing.T) {
	r := newTestRegistry()

	feed, ok := r.Lookup("feed")
	require.True(t, ok)
	assert.True(t, feed.Streamed())

	hello, _ := r.Lookup("hello")
	assert.False(t, hello.Streamed())
}
