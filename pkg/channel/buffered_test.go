package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferedImplicitInitialCredit(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufL := NewBuffered(chL, 0)
	defer bufL.Close()

	// One event may go out before any credit arrives.
	require.NoError(t, bufL.Emit(bufL.NewEvent("one", nil, nil), testTimeout))

	// The second must block until the peer grants a slot.
	err := bufL.Emit(bufL.NewEvent("two", nil, nil), 100*time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err), "want credit starvation, got %v", err)

	got, err := chR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name)
}

func TestBufferedCreditGrantWakesSender(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufL := NewBuffered(chL, 0)
	defer bufL.Close()

	require.NoError(t, bufL.Emit(bufL.NewEvent("one", nil, nil), testTimeout))

	emitted := make(chan error, 1)
	go func() {
		emitted <- bufL.Emit(bufL.NewEvent("two", nil, nil), testTimeout)
	}()

	// No grant yet: the sender stays blocked.
	select {
	case err := <-emitted:
		t.Fatalf("emit completed without credit: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	_, err := chR.Recv(testTimeout) // drain "one"
	require.NoError(t, err)
	require.NoError(t, chR.Emit(chR.NewEvent(event.NameMore, []any{3}, nil), testTimeout))

	require.NoError(t, <-emitted)
	got, err := chR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Name)
}

func TestBufferedRecvTopsUpOnHalfDrain(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufR := NewBuffered(chR, 4)
	defer bufR.Close()

	require.NoError(t, chL.Emit(chL.NewEvent("first", nil, nil), testTimeout))

	// First recv only arms verbose mode; no credit goes out.
	_, err := bufR.Recv(testTimeout)
	require.NoError(t, err)

	require.NoError(t, chL.Emit(chL.NewEvent("second", nil, nil), testTimeout))

	// Second recv sees reserved(0) below size/2 and grants the difference.
	_, err = bufR.Recv(testTimeout)
	require.NoError(t, err)

	grant, err := chL.Recv(testTimeout)
	require.NoError(t, err)
	require.Equal(t, event.NameMore, grant.Name)
	n, err := creditArg(grant)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestBufferedQueueOverflow(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufR := NewBuffered(chR, 2)
	defer bufR.Close()

	// A peer ignoring its credit floods past the queue bound.
	for i := 0; i < 3; i++ {
		require.NoError(t, chL.Emit(chL.NewEvent("flood", []any{i}, nil), testTimeout))
	}

	// Buffered events still drain...
	_, err := bufR.Recv(testTimeout)
	require.NoError(t, err)
	_, err = bufR.Recv(testTimeout)
	require.NoError(t, err)

	// ...then the violation surfaces.
	_, err = bufR.Recv(testTimeout)
	var overflow *rpcerr.QueueOverflow
	assert.True(t, errors.As(err, &overflow), "want QueueOverflow, got %v", err)
}

func TestBufferedOnCloseIf(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufR := NewBuffered(chR, 0)
	bufR.SetOnCloseIf(func(e *event.Event) bool {
		return e.Name == event.NameStreamDone
	})

	require.NoError(t, chL.Emit(chL.NewEvent(event.NameStream, []any{1}, nil), testTimeout))
	require.NoError(t, chL.Emit(chL.NewEvent(event.NameStreamDone, nil, nil), testTimeout))

	got, err := bufR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, event.NameStream, got.Name)

	// The terminal event is still delivered before the self-close.
	got, err = bufR.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, event.NameStreamDone, got.Name)

	_, err = bufR.Recv(100 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrChannelClosed), "want closed, got %v", err)
}

func TestBufferedCloseCascades(t *testing.T) {
	chL, _, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, time.Second, false)
	buf := NewBuffered(hb, 0)

	buf.Close()
	buf.Close() // idempotent

	_, err := hb.Recv(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrChannelClosed), "want closed heartbeat, got %v", err)
	_, err = chL.Recv(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrChannelClosed), "want closed channel, got %v", err)
}

// TestBufferedFlowControlStress pushes 100 events through a receiver bounded
// at 4 slots: the local queue must never exceed its bound, the sender must
// survive on periodic top-ups, and everything must arrive in order.
func TestBufferedFlowControlStress(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	bufL := NewBuffered(chL, 0)
	defer bufL.Close()
	bufR := NewBuffered(chR, 4)
	defer bufR.Close()

	const total = 100
	sendErr := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			e := bufL.NewEvent("item", []any{i}, nil)
			if err := bufL.Emit(e, testTimeout); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	for i := 0; i < total; i++ {
		assert.LessOrEqual(t, len(bufR.queue), 4, "queue bound violated")
		got, err := bufR.Recv(testTimeout)
		require.NoError(t, err)
		require.Len(t, got.Args, 1)
		require.Equal(t, i, asInt(t, got.Args[0]), "out of order at %d", i)
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, <-sendErr)
}

func asInt(t *testing.T, v any) int {
	t.Helper()
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	default:
		t.Fatalf("not an integer: %T", v)
		return 0
	}
}
