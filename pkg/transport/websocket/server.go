package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/google/uuid"

	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/transport"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// Server is an http.Handler that upgrades each request to a websocket
// connection and drives it against a transport.Handler, grounded on
// drpcorg-chotki's network.Net accept loop (one session per accepted
// connection, UUID-named the same way KeepListening names peers) crossed
// with asadovsky-cdb's hub.handleConn read loop.
type Server struct {
	handler  transport.Handler
	log      logging.Logger
	upgrader gorilla.Upgrader
}

// NewServer returns a Server dispatching connections to handler.
func NewServer(handler transport.Handler, log logging.Logger) *Server {
	return &Server{
		handler: handler,
		log:     log,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket server: upgrade failed", "err", err)
		return
	}
	id := uuid.Must(uuid.NewV7()).String()
	sess := &serverSession{conn: conn, id: id}

	if err := s.handler.OnConnect(sess); err != nil {
		s.log.Error("websocket server: connect failed", "session", id, "err", err)
		_ = conn.Close()
		return
	}

	defer func() {
		s.handler.OnDisconnect(sess)
		if err := sess.Close(); err != nil {
			s.log.Warn("websocket server: couldn't close session", "session", id, "err", err)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				s.log.Warn("websocket server: couldn't read from session", "session", id, "err", err)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("websocket server: malformed message", "session", id, "err", err)
			continue
		}

		switch env.Type {
		case typePropose:
			var msg proposeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Warn("websocket server: malformed propose", "session", id, "err", err)
				continue
			}
			resp := s.handler.OnPropose(sess, msg.Proposal)
			if err := sess.writeJSON(proposalResponseMsg{Type: typeProposalResponse, ProposalResponse: resp}); err != nil {
				s.log.Error("websocket server: couldn't write to session", "session", id, "err", err)
				return
			}
		default:
			s.log.Warn("websocket server: unknown message type", "session", id, "type", env.Type)
		}
	}
}

type serverSession struct {
	conn *gorilla.Conn
	id   string
	mu   sync.Mutex
}

var _ transport.Session = (*serverSession)(nil)

func (s *serverSession) ID() string { return s.id }

func (s *serverSession) SendCatchup(c wire.Catchup) error {
	return s.writeJSON(catchupMsg{Type: typeCatchup, Catchup: c})
}

func (s *serverSession) SendEvent(ev wire.Event) error {
	return s.writeJSON(eventMsg{Type: typeEvent, Event: ev})
}

func (s *serverSession) Close() error {
	return s.conn.Close()
}

func (s *serverSession) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}
