// Package realtime fans device events, alerts and incidents out to
// WebSocket clients grouped into rooms.
//
// A Hub holds every live connection, indexed by caller identity and by room.
// Rooms are created on first join and removed when the last member leaves.
// Nothing here is persisted; a restart drops all connections and rooms.
//
// Derived events are routed through a table held as data: each message type
// lists the rooms it targets, an optional condition per room and whether it
// is also broadcast to every connection. A connection receives one copy of
// an event even when it belongs to several targeted rooms.
//
// # Protocol
//
// Server messages are JSON objects with a type, type-specific fields and a
// timestamp:
//
//	{"type":"sensor_reading","device_id":"101/kitchen","scope":"101",...,"timestamp":"2026-03-01T12:00:00Z"}
//
// Clients send commands:
//
//	{"action":"ping"}
//	{"action":"join_room","room":"unit:101"}
//	{"action":"leave_room","room":"unit:101"}
//
// Malformed commands get an error message; the connection stays open.
package realtime
