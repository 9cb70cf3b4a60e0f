package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/hutch/pkg/channel"
	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairRoundTrip(t *testing.T) {
	left, right := Pair(nil)
	defer left.Close()
	defer right.Close()

	sent := left.NewEvent("hello", []any{"RPC"}, map[string]any{"trace_id": "abc"})
	require.NoError(t, left.Emit(sent, time.Second))

	got, err := right.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Name)
	assert.Equal(t, sent.MessageID(), got.MessageID())
	assert.Equal(t, event.ProtocolVersion, got.Version())
	assert.Equal(t, "abc", got.Header["trace_id"])
	require.Len(t, got.Args, 1)
	assert.Equal(t, "RPC", got.Args[0])
}

func TestPairRecvTimeout(t *testing.T) {
	left, _ := Pair(nil)
	defer left.Close()

	_, err := left.Recv(50 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err))
}

func TestPairClose(t *testing.T) {
	left, right := Pair(nil)
	require.NoError(t, left.Close())
	require.NoError(t, left.Close()) // idempotent

	_, err := left.Recv(time.Second)
	assert.True(t, errors.Is(err, channel.ErrSourceClosed))

	// The peer notices once its buffered slot is spent.
	require.NoError(t, right.Emit(right.NewEvent("one", nil, nil), time.Second))
	err = right.Emit(right.NewEvent("two", nil, nil), time.Second)
	assert.True(t, errors.Is(err, channel.ErrSourceClosed))
}

func TestDecodePartsWithIdentity(t *testing.T) {
	e := event.New("hello", []any{"x"}, event.ProtocolVersion, nil)
	payload, err := event.EncodeFrames(e)
	require.NoError(t, err)

	parts := append([][]byte{[]byte("peer-1"), {}}, payload...)
	got, err := decodeParts(parts)
	require.NoError(t, err)
	assert.Equal(t, []byte("peer-1"), got.Identity)
	assert.Equal(t, "hello", got.Name)
}

func TestDecodePartsWithoutIdentity(t *testing.T) {
	e := event.New("hello", nil, event.ProtocolVersion, nil)
	payload, err := event.EncodeFrames(e)
	require.NoError(t, err)

	parts := append([][]byte{{}}, payload...)
	got, err := decodeParts(parts)
	require.NoError(t, err)
	assert.Nil(t, got.Identity)
	assert.Equal(t, "hello", got.Name)
}
