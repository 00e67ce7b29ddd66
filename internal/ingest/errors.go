package ingest

import "errors"

// ErrUnrecognized is reported in Result.Err for events the router could not
// classify.
var ErrUnrecognized = errors.New("ingest: unrecognized message")
