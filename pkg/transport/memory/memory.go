// Package memory provides an in-process Transport/Session pair with no
// network involved, for deterministic tests of the engine and server
// packages together — the "one in-memory implementation for tests" the
// spec's design notes call for.
package memory

import (
	"sync"

	"github.com/matthewsj/cloudmodel/pkg/engine"
	"github.com/matthewsj/cloudmodel/pkg/transport"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// Link connects one in-process client to one in-process server Handler.
// Construction is two-phase: New returns an unconnected Link so the
// caller can register OnCatchup/OnEvent (normally by handing the Link to
// engine.New) before Connect performs the handshake — otherwise a
// catchup sent synchronously from inside handler.OnConnect would arrive
// before anything is listening for it.
type Link struct {
	handler transport.Handler
	id      string

	mu        sync.Mutex
	onCatchup func(wire.Catchup)
	onEvent   func(wire.Event)
	closed    bool
}

var _ engine.Transport = (*Link)(nil)
var _ transport.Session = (*Link)(nil)

// New returns an unconnected Link against handler. id should be unique
// among a given handler's sessions. Call Connect once the engine has
// registered its handlers.
func New(handler transport.Handler, id string) *Link {
	return &Link{handler: handler, id: id}
}

// Connect performs the handshake: handler.OnConnect(l), which
// synchronously delivers the catchup bundle through whatever OnCatchup
// handler is registered at the time of the call.
func (l *Link) Connect() error {
	return l.handler.OnConnect(l)
}

// Disconnect tears the link down, notifying the server handler.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.handler.OnDisconnect(l)
}

// ID implements transport.Session.
func (l *Link) ID() string { return l.id }

// Close implements transport.Session.
func (l *Link) Close() error {
	l.Disconnect()
	return nil
}

// SendCatchup implements transport.Session by invoking the client's
// registered catchup handler directly.
func (l *Link) SendCatchup(c wire.Catchup) error {
	l.mu.Lock()
	handler := l.onCatchup
	l.mu.Unlock()
	if handler != nil {
		handler(c)
	}
	return nil
}

// SendEvent implements transport.Session by invoking the client's
// registered event handler directly.
func (l *Link) SendEvent(ev wire.Event) error {
	l.mu.Lock()
	handler := l.onEvent
	l.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
	return nil
}

// OnCatchup implements engine.Transport.
func (l *Link) OnCatchup(handler func(wire.Catchup)) {
	l.mu.Lock()
	l.onCatchup = handler
	l.mu.Unlock()
}

// OnEvent implements engine.Transport.
func (l *Link) OnEvent(handler func(wire.Event)) {
	l.mu.Lock()
	l.onEvent = handler
	l.mu.Unlock()
}

// Propose implements engine.Transport by calling straight into the
// server's OnPropose and invoking callback with the result before
// returning — synchronous, but still "exactly once", satisfying the
// transport contract the engine relies on.
func (l *Link) Propose(p wire.Proposal, callback func(wire.ProposalResponse)) {
	resp := l.handler.OnPropose(l, p)
	callback(resp)
}
