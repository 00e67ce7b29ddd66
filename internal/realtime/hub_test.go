package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	h.SetClock(func() time.Time { return fixedNow })
	t.Cleanup(h.Close)
	return h
}

// drain returns every message currently queued for conn.
func drain(t *testing.T, conn *Conn) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case data, ok := <-conn.Outbound():
			if !ok {
				return out
			}
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func types(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type()
	}
	return out
}

// connect registers a connection and discards its acknowledgement.
func connect(t *testing.T, h *Hub, identity string) *Conn {
	t.Helper()
	conn := h.Connect(identity)
	drain(t, conn)
	return conn
}

func TestConnect_Acknowledges(t *testing.T) {
	h := newTestHub(t)

	conn := h.Connect("user-1")
	msgs := drain(t, conn)

	require.Len(t, msgs, 1)
	assert.Equal(t, TypeConnection, msgs[0].Type())
	assert.Equal(t, conn.ID(), msgs[0]["connection_id"])
	assert.Equal(t, "user-1", msgs[0]["user_id"])
	assert.Equal(t, "2026-03-01T12:00:00Z", msgs[0]["timestamp"])
	assert.Equal(t, 1, h.ConnectionCount())
	assert.Equal(t, 1, h.IdentityConnections("user-1"))
}

func TestJoinLeave_RoomLifecycle(t *testing.T) {
	h := newTestHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	require.NoError(t, h.Join(a, "unit:101"))
	require.NoError(t, h.Join(b, "unit:101"))
	assert.Equal(t, map[string]int{"unit:101": 2}, h.Rooms())

	joined := drain(t, a)
	require.Len(t, joined, 1)
	assert.Equal(t, TypeRoomJoined, joined[0].Type())
	assert.Equal(t, "unit:101", joined[0]["room"])

	require.NoError(t, h.Leave(a, "unit:101"))
	assert.Equal(t, []string{TypeRoomLeft}, types(drain(t, a)))
	assert.Equal(t, map[string]int{"unit:101": 1}, h.Rooms())

	require.NoError(t, h.Leave(b, "unit:101"))
	assert.Empty(t, h.Rooms(), "room should be deleted when empty")
}

func TestJoin_Errors(t *testing.T) {
	h := newTestHub(t)
	conn := connect(t, h, "a")

	assert.ErrorIs(t, h.Join(conn, ""), ErrInvalidRoom)
	assert.ErrorIs(t, h.Leave(conn, ""), ErrInvalidRoom)

	h.Disconnect(conn)
	assert.ErrorIs(t, h.Join(conn, "unit:101"), ErrUnknownConnection)
	assert.ErrorIs(t, h.Leave(conn, "unit:101"), ErrUnknownConnection)
}

func TestBroadcastRoom_MembersOnly(t *testing.T) {
	h := newTestHub(t)
	member := connect(t, h, "a")
	other := connect(t, h, "b")

	require.NoError(t, h.Join(member, "unit:101"))
	require.NoError(t, h.Join(other, "unit:102"))
	drain(t, member)
	drain(t, other)

	n := h.BroadcastRoom("unit:101", NewMessage(TypeSensorReading, fixedNow, map[string]any{"value": 21.5}))
	assert.Equal(t, 1, n)

	got := drain(t, member)
	require.Len(t, got, 1)
	assert.Equal(t, 21.5, got[0]["value"])
	assert.Empty(t, drain(t, other))

	require.NoError(t, h.Leave(member, "unit:101"))
	drain(t, member)

	assert.Equal(t, 0, h.BroadcastRoom("unit:101", NewMessage(TypeSensorReading, fixedNow, nil)))
	assert.Empty(t, drain(t, member))
}

func TestBroadcastAll_EveryIdentity(t *testing.T) {
	h := newTestHub(t)
	a1 := connect(t, h, "a")
	a2 := connect(t, h, "a")
	b := connect(t, h, "b")

	assert.Equal(t, 2, h.IdentityConnections("a"))
	assert.Equal(t, 3, h.BroadcastAll(NewMessage(TypeDeviceAlert, fixedNow, nil)))

	for _, c := range []*Conn{a1, a2, b} {
		assert.Len(t, drain(t, c), 1)
	}
}

func TestDisconnect_RemovesEverywhere(t *testing.T) {
	h := newTestHub(t)
	m := metrics.New()
	h.SetMetrics(m)

	conn := connect(t, h, "a")
	require.NoError(t, h.Join(conn, "unit:101"))
	require.NoError(t, h.Join(conn, "iot:all"))

	h.Disconnect(conn)
	h.Disconnect(conn) // idempotent

	assert.Equal(t, 0, h.ConnectionCount())
	assert.Equal(t, 0, h.IdentityConnections("a"))
	assert.Empty(t, h.Rooms())

	// The outbound channel is closed after the queued messages.
	drain(t, conn)
	_, open := <-conn.Outbound()
	assert.False(t, open)

	assert.False(t, h.Send(conn, NewMessage(TypePong, fixedNow, nil)))
}

func TestSend_FullBufferDisconnects(t *testing.T) {
	h := newTestHub(t)
	slow := connect(t, h, "slow")
	fast := connect(t, h, "fast")
	require.NoError(t, h.Join(slow, "iot:all"))
	require.NoError(t, h.Join(fast, "iot:all"))
	drain(t, fast)

	// Fill the slow connection's buffer (it already holds room_joined).
	for i := 0; i < sendBufferSize-1; i++ {
		require.True(t, h.Send(slow, NewMessage(TypePong, fixedNow, nil)))
	}

	n := h.BroadcastRoom("iot:all", NewMessage(TypeSensorReading, fixedNow, nil))
	assert.Equal(t, 1, n, "only the healthy member receives it")
	assert.Len(t, drain(t, fast), 1)

	assert.Equal(t, 1, h.ConnectionCount())
	assert.Equal(t, map[string]int{"iot:all": 1}, h.Rooms())
}

func TestRoomsOf(t *testing.T) {
	h := newTestHub(t)
	conn := connect(t, h, "a")

	require.NoError(t, h.Join(conn, "unit:101"))
	require.NoError(t, h.Join(conn, "alerts:all"))

	assert.Equal(t, []string{"alerts:all", "unit:101"}, h.RoomsOf(conn))
}

func TestClose_DisconnectsAll(t *testing.T) {
	h := NewHub()
	connect(t, h, "a")
	connect(t, h, "b")

	h.Close()
	assert.Equal(t, 0, h.ConnectionCount())
}
