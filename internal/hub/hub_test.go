package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kapu/chess-arena/pkg/wire"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()
	h := New()
	go h.Run()
	t.Cleanup(h.Close)
	return h
}

func readFrame(t *testing.T, ob *Outbox) wire.Envelope {
	t.Helper()
	select {
	case raw, ok := <-ob.Out():
		require.True(t, ok, "outbox closed while a frame was expected")
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return wire.Envelope{}
	}
}

func requireNoFrame(t *testing.T, ob *Outbox) {
	t.Helper()
	select {
	case raw := <-ob.Out():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishReachesRoomMembersOnly(t *testing.T) {
	h := newRunningHub(t)

	a, b, other := NewOutbox(), NewOutbox(), NewOutbox()
	h.Join("r1", a)
	h.Join("r1", b)
	h.Join("r2", other)

	require.NoError(t, h.Publish("r1", wire.EvtGameUpdated, map[string]string{"k": "v"}))

	for _, ob := range []*Outbox{a, b} {
		env := readFrame(t, ob)
		require.Equal(t, wire.EvtGameUpdated, env.Event)
		require.JSONEq(t, `{"k":"v"}`, string(env.Data))
	}
	requireNoFrame(t, other)
}

func TestDirectSendTargetsOneConnection(t *testing.T) {
	h := newRunningHub(t)

	a, b := NewOutbox(), NewOutbox()
	h.Join("r1", a)
	h.Join("r1", b)

	require.NoError(t, a.Send(wire.EvtError, wire.ErrorPayload{Message: "nope"}))

	env := readFrame(t, a)
	require.Equal(t, wire.EvtError, env.Event)
	requireNoFrame(t, b)
}

func TestSlowClientDoesNotBlockRoom(t *testing.T) {
	h := newRunningHub(t)

	slow, healthy := NewOutbox(), NewOutbox()
	h.Join("r1", slow)
	h.Join("r1", healthy)

	// nobody drains slow; push one frame past its buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= outboxBuffer; i++ {
			env := readFrame(t, healthy)
			require.Equal(t, wire.EvtMoveMade, env.Event)
		}
	}()
	for i := 0; i <= outboxBuffer; i++ {
		require.NoError(t, h.Publish("r1", wire.EvtMoveMade, nil))
	}
	<-done

	// the slow outbox was evicted and closed
	drained := 0
	for range slow.Out() {
		drained++
	}
	require.Equal(t, outboxBuffer, drained)
}

func TestRejoinMovesRooms(t *testing.T) {
	h := newRunningHub(t)

	ob := NewOutbox()
	h.Join("r1", ob)
	h.Join("r2", ob)

	require.NoError(t, h.Publish("r1", wire.EvtGameUpdated, nil))
	requireNoFrame(t, ob)

	require.NoError(t, h.Publish("r2", wire.EvtGameUpdated, nil))
	env := readFrame(t, ob)
	require.Equal(t, wire.EvtGameUpdated, env.Event)
}

func TestLeaveClosesOutbox(t *testing.T) {
	h := newRunningHub(t)

	ob := NewOutbox()
	h.Join("r1", ob)
	h.Leave(ob)

	select {
	case _, ok := <-ob.Out():
		require.False(t, ok, "expected closed outbox")
	case <-time.After(2 * time.Second):
		t.Fatal("outbox not closed by Leave")
	}

	// sends after close are dropped, not panics
	require.NoError(t, ob.Send(wire.EvtError, nil))
}
