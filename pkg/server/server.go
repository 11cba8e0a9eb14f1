// Package server implements the server serializer (spec §4.1): it owns
// the single canonical event log, assigns monotonic ids, accepts or
// rejects proposals, and broadcasts accepted events.
package server

import (
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/transport"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// recentEventCacheSize bounds the JSON-bytes cache below; it has no
// bearing on protocol correctness, only on how many recent events a
// debug/diagnostics client can fetch without the serializer re-marshaling.
const recentEventCacheSize = 256

// Serializer is the single-writer event log. The propose path runs under
// one mutex end to end (read log size, decide, append, broadcast),
// matching spec §5's requirement that accept/reject decisions never
// interleave — the same discipline drpcorg-chotki applies to a single
// replica's merge path, generalized here to CloudModel's centralized log
// instead of chotki's peer-merged one.
type Serializer struct {
	mu  sync.Mutex
	log []wire.Event

	sessions *xsync.MapOf[string, transport.Session]
	recent   *lru.Cache[wire.EventID, []byte]

	logger  logging.Logger
	metrics *Metrics
}

var _ transport.Handler = (*Serializer)(nil)

// New returns an empty Serializer (an empty log, no connected sessions).
func New(logger logging.Logger, metrics *Metrics) *Serializer {
	recent, err := lru.New[wire.EventID, []byte](recentEventCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// recentEventCacheSize never is.
		panic(err)
	}
	return &Serializer{
		sessions: xsync.NewMapOf[string, transport.Session](),
		recent:   recent,
		logger:   logger,
		metrics:  metrics,
	}
}

// OnConnect implements transport.Handler: it snapshots the log and sends
// the catchup bundle, then registers the session for future broadcasts
// (spec §4.1 Connection handler).
func (s *Serializer) OnConnect(session transport.Session) error {
	s.mu.Lock()
	snapshot := append([]wire.Event(nil), s.log...)
	s.mu.Unlock()

	if err := session.SendCatchup(wire.Catchup{EventStream: snapshot}); err != nil {
		return err
	}
	s.sessions.Store(session.ID(), session)
	s.metrics.sessions.Add(1)
	s.logger.Info("server: session connected", "session", session.ID(), "caughtUpTo", len(snapshot))
	return nil
}

// OnDisconnect implements transport.Handler.
func (s *Serializer) OnDisconnect(session transport.Session) {
	if _, ok := s.sessions.LoadAndDelete(session.ID()); ok {
		s.metrics.sessions.Add(-1)
		s.logger.Info("server: session disconnected", "session", session.ID())
	}
}

// OnPropose implements transport.Handler: spec §4.1 Propose handler. The
// decision (accept iff the proposer was caught up) and the log append
// happen atomically under mu so I1 (monotonicity) holds regardless of how
// many sessions propose concurrently.
func (s *Serializer) OnPropose(session transport.Session, p wire.Proposal) wire.ProposalResponse {
	s.mu.Lock()
	n := wire.EventID(len(s.log))

	if p.LatestKnownEventID != n {
		missing := append([]wire.Event(nil), s.log[p.LatestKnownEventID:]...)
		s.mu.Unlock()
		s.metrics.rejected.Add(1)
		s.logger.Debug("server: rejecting stale proposal", "session", session.ID(),
			"latestKnown", p.LatestKnownEventID, "logSize", n)
		return wire.ProposalResponse{Reject: &wire.Reject{
			ClientEventID: p.ClientEventID,
			MissingEvents: missing,
		}}
	}

	newID := n + 1
	ev := wire.Event{ID: newID, Msg: p.SharedMsg}
	s.log = append(s.log, ev)

	s.cacheEvent(ev)
	s.metrics.accepted.Add(1)
	s.broadcast(ev, session.ID())
	s.mu.Unlock()

	return wire.ProposalResponse{Accept: &wire.Accept{
		ClientEventID: p.ClientEventID,
		EventID:       newID,
	}}
}

// broadcast fans an accepted event out to every session except the one
// that proposed it (spec §4.1 Broadcast semantics).
func (s *Serializer) broadcast(ev wire.Event, exceptSessionID string) {
	s.sessions.Range(func(id string, sess transport.Session) bool {
		if id == exceptSessionID {
			return true
		}
		if err := sess.SendEvent(ev); err != nil {
			s.logger.Warn("server: couldn't broadcast to session", "session", id, "err", err)
		} else {
			s.metrics.broadcast.Add(1)
		}
		return true
	})
}

func (s *Serializer) cacheEvent(ev wire.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("server: failed to cache marshaled event", "eventId", ev.ID, "err", err)
		return
	}
	s.recent.Add(ev.ID, raw)
}

// RecentEventJSON returns the marshaled wire.Event for id if it's still
// held in the recent-events cache, avoiding a re-marshal for debug
// tooling that polls the log. A miss just means id has aged out; callers
// needing guaranteed access should use the catchup path instead.
func (s *Serializer) RecentEventJSON(id wire.EventID) ([]byte, bool) {
	return s.recent.Get(id)
}

// Stats is a read-only diagnostic snapshot, grounded on
// network.Net.GetStats: how many sessions are connected and how large the
// canonical log currently is.
type Stats struct {
	ConnectedSessions int
	LogSize           int
}

// Stats returns a snapshot of the serializer's current diagnostics.
func (s *Serializer) Stats() Stats {
	s.mu.Lock()
	logSize := len(s.log)
	s.mu.Unlock()

	count := 0
	s.sessions.Range(func(string, transport.Session) bool {
		count++
		return true
	})
	return Stats{ConnectedSessions: count, LogSize: logSize}
}
