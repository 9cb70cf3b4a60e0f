package channel

import (
	"testing"
	"time"

	"github.com/cuemby/hutch/pkg/event"
	"github.com/cuemby/hutch/pkg/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatDetectsLostRemote(t *testing.T) {
	chL, _, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, 25*time.Millisecond, false)
	defer hb.Close()

	// The silent peer must be declared lost after two missed intervals.
	_, err := hb.Recv(time.Second)
	assert.True(t, rpcerr.IsLostRemote(err))

	// Emits after the loss fail too.
	err = hb.Emit(hb.NewEvent("late", nil, nil), testTimeout)
	assert.True(t, rpcerr.IsLostRemote(err))
}

func TestHeartbeatTrafficKeepsChannelAlive(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, 25*time.Millisecond, false)
	defer hb.Close()

	// The peer answers probes; the overlay must stay alive well past the
	// deadline it would otherwise hit.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e := chR.NewEvent(event.NameHeartbeat, nil, nil)
				if err := chR.Emit(e, testTimeout); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	_, err := hb.Recv(300 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err), "want timeout (still alive), got %v", err)
}

func TestHeartbeatProbesAreNotForwarded(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, time.Second, false)
	defer hb.Close()

	require.NoError(t, chR.Emit(chR.NewEvent(event.NameHeartbeat, nil, nil), testTimeout))
	require.NoError(t, chR.Emit(chR.NewEvent("data", []any{"payload"}, nil), testTimeout))

	got, err := hb.Recv(testTimeout)
	require.NoError(t, err)
	assert.Equal(t, "data", got.Name)
}

func TestHeartbeatEmitsProbes(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, 25*time.Millisecond, false)
	defer hb.Close()

	got, err := chR.Recv(time.Second)
	require.NoError(t, err)
	assert.Equal(t, event.NameHeartbeat, got.Name)
}

func TestHeartbeatPassiveModeNeverFails(t *testing.T) {
	chL, chR, teardown := newBoundPair(t)
	defer teardown()

	hb := NewHeartbeat(chL, 20*time.Millisecond, true)
	defer hb.Close()

	// Passive overlays neither probe nor enforce the deadline.
	_, err := hb.Recv(150 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err), "want timeout, got %v", err)

	// ...and the peer sees no probes either.
	_, err = chR.Recv(100 * time.Millisecond)
	assert.True(t, rpcerr.IsTimeout(err), "want timeout, got %v", err)
}
