package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
)

// sendBufferSize is the per-connection outbound message buffer size.
const sendBufferSize = 256

// Disconnect reasons reported to ws_disconnects_total.
const (
	reasonClosed     = "closed"
	reasonSendFailed = "send_failed"
	reasonShutdown   = "shutdown"
)

// Logger defines the logging interface for the realtime package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Conn is one client connection as seen by the hub. The transport reads
// encoded messages from Outbound until it is closed.
type Conn struct {
	id       string
	identity string

	// rooms is guarded by Hub.mu.
	rooms map[string]struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the caller identity the connection was opened with.
func (c *Conn) Identity() string { return c.identity }

// Outbound returns the channel of encoded messages for the transport. It is
// closed when the hub disconnects the connection.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// trySend queues data without blocking. It reports false when the buffer
// is full or the connection is already closed.
func (c *Conn) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close closes the outbound channel once.
func (c *Conn) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Hub manages realtime connections and room membership.
//
// Thread Safety:
//   - The registry is guarded by a single RWMutex.
//   - Sends happen outside the lock on a snapshot of recipients.
//   - Lock ordering: Hub.mu before Conn.mu.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*Conn]struct{}
	byIdentity map[string]map[*Conn]struct{}
	rooms      map[string]map[*Conn]struct{}

	routes  RouteTable
	logger  Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHub creates a hub with the default routing table.
func NewHub() *Hub {
	return &Hub{
		conns:      make(map[*Conn]struct{}),
		byIdentity: make(map[string]map[*Conn]struct{}),
		rooms:      make(map[string]map[*Conn]struct{}),
		routes:     DefaultRoutes(),
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger.
func (h *Hub) SetLogger(logger Logger) { h.logger = logger }

// SetMetrics sets the metrics collector.
func (h *Hub) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetRoutes replaces the routing table.
func (h *Hub) SetRoutes(routes RouteTable) { h.routes = routes }

// SetClock overrides the time source for message timestamps.
func (h *Hub) SetClock(now func() time.Time) { h.now = now }

// Connect registers a connection for identity and queues a connection
// acknowledgement.
func (h *Hub) Connect(identity string) *Conn {
	conn := &Conn{
		id:       uuid.NewString(),
		identity: identity,
		rooms:    make(map[string]struct{}),
		send:     make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	set, ok := h.byIdentity[identity]
	if !ok {
		set = make(map[*Conn]struct{})
		h.byIdentity[identity] = set
	}
	set[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Debug("realtime client connected", "conn_id", conn.id, "identity", identity, "connections", total)

	h.Send(conn, NewMessage(TypeConnection, h.now(), map[string]any{
		"connection_id": conn.id,
		"user_id":       identity,
	}))
	return conn
}

// Disconnect removes conn from every room and the identity index, then
// closes its outbound channel. Calling it again is a no-op.
func (h *Hub) Disconnect(conn *Conn) {
	h.disconnect(conn, reasonClosed)
}

func (h *Hub) disconnect(conn *Conn, reason string) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)

	if set := h.byIdentity[conn.identity]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.byIdentity, conn.identity)
		}
	}
	for room := range conn.rooms {
		h.removeMemberLocked(room, conn)
	}
	conn.rooms = make(map[string]struct{})
	conn.close()
	total := len(h.conns)
	h.mu.Unlock()

	h.metrics.ConnectionClosed(reason)
	h.logger.Debug("realtime client disconnected",
		"conn_id", conn.id,
		"reason", reason,
		"connections", total,
	)
}

// removeMemberLocked drops conn from room and deletes the room when empty.
// Caller holds h.mu.
func (h *Hub) removeMemberLocked(room string, conn *Conn) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Join adds conn to room, creating the room if needed, and acknowledges
// with room_joined.
func (h *Hub) Join(conn *Conn, room string) error {
	if room == "" {
		return ErrInvalidRoom
	}

	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[conn] = struct{}{}
	conn.rooms[room] = struct{}{}
	h.mu.Unlock()

	h.Send(conn, NewMessage(TypeRoomJoined, h.now(), map[string]any{"room": room}))
	return nil
}

// Leave removes conn from room and acknowledges with room_left. The room is
// deleted when its last member leaves. Leaving a room the connection is not
// in still acknowledges.
func (h *Hub) Leave(conn *Conn, room string) error {
	if room == "" {
		return ErrInvalidRoom
	}

	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(conn.rooms, room)
	h.removeMemberLocked(room, conn)
	h.mu.Unlock()

	h.Send(conn, NewMessage(TypeRoomLeft, h.now(), map[string]any{"room": room}))
	return nil
}

// Send delivers msg to one connection. A full or closed buffer counts as a
// transport failure and disconnects the connection.
func (h *Hub) Send(conn *Conn, msg Message) bool {
	data, err := msg.encode()
	if err != nil {
		h.logger.Error("failed to encode realtime message", "type", msg.Type(), "error", err)
		return false
	}
	return h.deliver(conn, data)
}

func (h *Hub) deliver(conn *Conn, data []byte) bool {
	if conn.trySend(data) {
		return true
	}
	h.logger.Warn("realtime send failed, disconnecting", "conn_id", conn.id, "identity", conn.identity)
	h.disconnect(conn, reasonSendFailed)
	return false
}

// BroadcastRoom delivers msg to every member of room and returns how many
// received it. A failed member is disconnected; the rest still receive it.
func (h *Hub) BroadcastRoom(room string, msg Message) int {
	h.mu.RLock()
	recipients := lo.Keys(h.rooms[room])
	h.mu.RUnlock()

	return h.fanout(recipients, msg)
}

// BroadcastAll delivers msg to every connection of every identity.
func (h *Hub) BroadcastAll(msg Message) int {
	h.mu.RLock()
	recipients := lo.Keys(h.conns)
	h.mu.RUnlock()

	return h.fanout(recipients, msg)
}

// fanout encodes msg once and delivers it to each recipient.
func (h *Hub) fanout(recipients []*Conn, msg Message) int {
	if len(recipients) == 0 {
		return 0
	}

	data, err := msg.encode()
	if err != nil {
		h.logger.Error("failed to encode realtime message", "type", msg.Type(), "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range recipients {
		if h.deliver(conn, data) {
			delivered++
		}
	}
	return delivered
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// IdentityConnections returns how many connections identity holds.
func (h *Hub) IdentityConnections(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byIdentity[identity])
}

// Rooms returns the member count of every room.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.MapValues(h.rooms, func(members map[*Conn]struct{}, _ string) int {
		return len(members)
	})
}

// RoomsOf returns the rooms conn belongs to, sorted.
func (h *Hub) RoomsOf(conn *Conn) []string {
	h.mu.RLock()
	rooms := lo.Keys(conn.rooms)
	h.mu.RUnlock()
	sort.Strings(rooms)
	return rooms
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := lo.Keys(h.conns)
	h.mu.RUnlock()

	for _, conn := range conns {
		h.disconnect(conn, reasonShutdown)
	}
}
