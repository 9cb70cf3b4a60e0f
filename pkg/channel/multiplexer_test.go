package channel

import (
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func TestMultiplexerBroadcastsInitiatingEvents(t *testing.T) {
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)
	defer muxL.Close()
	defer muxR.Close()

	chL := muxL.Channel(nil)
	req := chL.NewEvent("hello", []any{"RPC"}, nil)
	require.NoError(t, chL.Emit(req, testTimeout))

	got, err := muxR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Name)
	assert.Equal(t, req.MessageID(), got.MessageID())
}

func TestMultiplexerRoutesRepliesToChannel(t *testing.T) {
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)
	defer muxL.Close()
	defer muxR.Close()

	chL := muxL.Channel(nil)
	req := chL.NewEvent("hello", nil, nil)
	require.NoError(t, chL.Emit(req, testTimeout))

	initial, err := muxR.Recv(testTimeout)
	require.NoError(t, err)
	chR := muxR.Channel(initial)

	reply := chR.NewEvent("OK", []any{"hi"}, nil)
	assert.Equal(t, req.MessageID(), reply.ResponseTo())
	require.NoError(t, chR.Emit(reply, testTimeout))

	got, err := chL.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "OK", got.Name)
}

func TestMultiplexerDropsUnroutableReply(t *testing.T) {
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)
	defer muxL.Close()
	defer muxR.Close()

	// A reply to a call nobody has open must be dropped, not broadcast.
	orphan := left.NewEvent("OK", nil, nil)
	orphan.SetResponseTo("nobody-home-here!")
	require.NoError(t, left.Emit(orphan, testTimeout))

	_, err := muxR.Recv(100 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err))
}

func TestMultiplexerSeedsChannelFromEvent(t *testing.T) {
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)
	defer muxL.Close()
	defer muxR.Close()

	chL := muxL.Channel(nil)
	require.NoError(t, chL.Emit(chL.NewEvent("hello", nil, nil), testTimeout))

	initial, err := muxR.Recv(testTimeout)
	require.NoError(t, err)
	chR := muxR.Channel(initial)

	// The seed event is drained through the channel's own queue.
	got, err := chR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Name)
	assert.Equal(t, initial.MessageID(), chR.ID())
}

func TestMultiplexerOneChannelPerID(t *testing.T) {
	left, _ := newFakePair()
	mux := NewMultiplexer(left, true)
	defer mux.Close()

	seed := left.NewEvent("hello", nil, nil)
	first := mux.Channel(seed)
	_ = first

	mux.mu.Lock()
	count := len(mux.active)
	mux.mu.Unlock()
	assert.Equal(t, 1, count)

	// Re-seeding from the same event replaces, never duplicates.
	second := mux.Channel(seed)
	mux.mu.Lock()
	count = len(mux.active)
	current := mux.active[seed.MessageID()]
	mux.mu.Unlock()
	assert.Equal(t, 1, count)
	assert.Same(t, second, current)
}

func TestChannelCloseRemovesFromActiveMap(t *testing.T) {
	left, _ := newFakePair()
	mux := NewMultiplexer(left, true)
	defer mux.Close()

	ch := mux.Channel(left.NewEvent("hello", nil, nil))
	ch.Close()
	ch.Close() // idempotent

	mux.mu.Lock()
	count := len(mux.active)
	mux.mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestChannelRecvTimeout(t *testing.T) {
	left, _ := newFakePair()
	mux := NewMultiplexer(left, true)
	defer mux.Close()

	ch := mux.Channel(nil)
	ch.NewEvent("bind", nil, nil)

	_, err := ch.Recv(50 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err))
}

func TestChannelInOrderDelivery(t *testing.T) {
	left, right := newFakePair()
	muxL := NewMultiplexer(left, true)
	muxR := NewMultiplexer(right, false)
	defer muxL.Close()
	defer muxR.Close()

	chL := muxL.Channel(nil)
	require.NoError(t, chL.Emit(chL.NewEvent("start", nil, nil), testTimeout))

	initial, err := muxR.Recv(testTimeout)
	require.NoError(t, err)
	chR := muxR.Channel(initial)

	const n = 20
	go func() {
		for i := 0; i < n; i++ {
			e := chR.NewEvent("item", []any{i}, nil)
			if err := chR.Emit(e, testTimeout); err != nil {
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		got, err := chL.Recv(testTimeout)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(i), fmt.Sprint(got.Args[0]), "out of order at %d", i)
	}
}
