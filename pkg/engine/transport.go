package engine

import "github.com/matthewsj/cloudmodel/pkg/wire"

// Transport is the client-facing side of the three logical channels the
// spec defines: catchup and event are server->client pushes the engine
// subscribes to; Propose is a client->server request whose reply arrives
// via a callback invoked exactly once. Concrete implementations live in
// pkg/transport (websocket for production, memory for tests); the engine
// is never bound to either.
type Transport interface {
	// Propose sends p to the server. callback is invoked exactly once,
	// with the server's accept/reject reply.
	Propose(p wire.Proposal, callback func(wire.ProposalResponse))

	// OnCatchup registers the handler invoked when the server delivers
	// the one-time catchup bundle.
	OnCatchup(handler func(wire.Catchup))

	// OnEvent registers the handler invoked for each broadcast event.
	OnEvent(handler func(wire.Event))
}
