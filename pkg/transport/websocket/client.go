package websocket

import (
	"encoding/json"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/matthewsj/cloudmodel/pkg/engine"
	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// ClientConn is the engine.Transport implementation that dials a
// websocket.Server and multiplexes catchup/event/proposalResponse frames
// off a single read loop, the way asadovsky-cdb's client side multiplexes
// SubscribeResponseS2C/ValueS2C/PatchS2C off one socket.
type ClientConn struct {
	conn *gorilla.Conn
	log  logging.Logger

	mu        sync.Mutex
	onCatchup func(wire.Catchup)
	onEvent   func(wire.Event)
	pending   map[wire.ClientEventID]func(wire.ProposalResponse)
}

var _ engine.Transport = (*ClientConn)(nil)

// Dial opens the websocket connection to a CloudModel server at url (e.g.
// "ws://host:port/ws") but does not yet read from it. Construction is
// two-phase so the caller can register OnCatchup/OnEvent (normally via
// engine.New) before Start launches the read loop — otherwise a catchup
// frame could arrive before anything is listening for it.
func Dial(url string, log logging.Logger) (*ClientConn, error) {
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &ClientConn{
		conn:    conn,
		log:     log,
		pending: map[wire.ClientEventID]func(wire.ProposalResponse){},
	}, nil
}

// Start launches the background read loop that dispatches incoming
// catchup, event and proposalResponse frames. Call it once OnCatchup and
// OnEvent are registered.
func (c *ClientConn) Start() {
	go c.readLoop()
}

// Close closes the underlying connection.
func (c *ClientConn) Close() error {
	return c.conn.Close()
}

// OnCatchup implements engine.Transport.
func (c *ClientConn) OnCatchup(handler func(wire.Catchup)) {
	c.mu.Lock()
	c.onCatchup = handler
	c.mu.Unlock()
}

// OnEvent implements engine.Transport.
func (c *ClientConn) OnEvent(handler func(wire.Event)) {
	c.mu.Lock()
	c.onEvent = handler
	c.mu.Unlock()
}

// Propose implements engine.Transport: it writes the proposal frame and
// records callback, to be invoked once by the read loop when the matching
// proposalResponse arrives.
func (c *ClientConn) Propose(p wire.Proposal, callback func(wire.ProposalResponse)) {
	c.mu.Lock()
	c.pending[p.ClientEventID] = callback
	err := c.conn.WriteJSON(proposeMsg{Type: typePropose, Proposal: p})
	c.mu.Unlock()
	if err != nil {
		c.log.Error("websocket client: failed to send proposal", "clientEventId", p.ClientEventID, "err", err)
	}
}

func (c *ClientConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Warn("websocket client: read loop stopped", "err", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("websocket client: malformed message", "err", err)
			continue
		}

		switch env.Type {
		case typeCatchup:
			var msg catchupMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Warn("websocket client: malformed catchup", "err", err)
				continue
			}
			c.mu.Lock()
			handler := c.onCatchup
			c.mu.Unlock()
			if handler != nil {
				handler(msg.Catchup)
			}

		case typeEvent:
			var msg eventMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Warn("websocket client: malformed event", "err", err)
				continue
			}
			c.mu.Lock()
			handler := c.onEvent
			c.mu.Unlock()
			if handler != nil {
				handler(msg.Event)
			}

		case typeProposalResponse:
			var msg proposalResponseMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				c.log.Warn("websocket client: malformed proposal response", "err", err)
				continue
			}
			cid, ok := responseClientEventID(msg.ProposalResponse)
			if !ok {
				c.log.Error("websocket client: proposal response has neither accept nor reject")
				continue
			}
			c.mu.Lock()
			callback, ok := c.pending[cid]
			if ok {
				delete(c.pending, cid)
			}
			c.mu.Unlock()
			if ok {
				callback(msg.ProposalResponse)
			} else {
				c.log.Warn("websocket client: proposal response for unknown clientEventId", "clientEventId", cid)
			}

		default:
			c.log.Warn("websocket client: unknown message type", "type", env.Type)
		}
	}
}
