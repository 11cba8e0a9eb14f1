// Package transport defines the bidirectional message plumbing the spec
// treats as an external collaborator (§1): catchup and event pushes from
// server to client, and propose requests with a reply callback. Two
// implementations are provided: memory (in-process, for tests) and
// websocket (gorilla/websocket, JSON-over-text-frames, for production).
package transport

import "github.com/matthewsj/cloudmodel/pkg/wire"

// Session is the server's view of one connected client: a handle to push
// catchup and broadcast events down, grounded on drpcorg-chotki's
// network.Peer (one instance per accepted connection, named and tracked
// in a concurrent map by the server).
type Session interface {
	// ID uniquely identifies this session for the lifetime of the
	// connection (a UUIDv7 in the websocket implementation, matching
	// network.Net.KeepListening's per-connection naming).
	ID() string

	// SendCatchup pushes the one-time catchup bundle.
	SendCatchup(wire.Catchup) error

	// SendEvent pushes a single broadcast event.
	SendEvent(wire.Event) error

	// Close closes the underlying connection.
	Close() error
}

// Handler is the server-side serializer's view of the transport: the
// callbacks a concrete transport implementation invokes as sessions
// connect, propose, and disconnect. pkg/server.Serializer implements this.
type Handler interface {
	// OnConnect is called once a new session is ready to receive
	// messages; it must synchronously send that session's catchup bundle.
	OnConnect(session Session) error

	// OnPropose is called for each proposal a session sends; its return
	// value is written back to the session as the proposal's response.
	OnPropose(session Session, p wire.Proposal) wire.ProposalResponse

	// OnDisconnect is called once a session's connection is gone.
	OnDisconnect(session Session)
}
