package realtime

import "errors"

var (
	// ErrUnknownConnection is returned for a connection that is not (or no
	// longer) registered with the hub.
	ErrUnknownConnection = errors.New("realtime: unknown connection")

	// ErrInvalidRoom is returned for an empty room name.
	ErrInvalidRoom = errors.New("realtime: invalid room")
)
