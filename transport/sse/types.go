// Package sse streams replica change notices as server-sent events so
// devices can sync without waiting for their next poll.
package sse

import "time"

const component = "transport/sse"

// Notice announces that the replica moved to Revision.
type Notice struct {
	Revision int64     `json:"revision"`
	At       time.Time `json:"at"`
}

// RevisionSource reports the replica's current revision. It must be safe
// for concurrent use.
type RevisionSource interface {
	Revision() int64
}
