package server_test

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/server"
	"github.com/matthewsj/cloudmodel/pkg/transport"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// fakeSession is a minimal transport.Session recording what was sent to
// it, for asserting on the serializer's catchup/broadcast behavior
// without a real transport.
type fakeSession struct {
	id       string
	catchups []wire.Catchup
	events   []wire.Event
}

var _ transport.Session = (*fakeSession)(nil)

func (f *fakeSession) ID() string { return f.id }
func (f *fakeSession) SendCatchup(c wire.Catchup) error {
	f.catchups = append(f.catchups, c)
	return nil
}
func (f *fakeSession) SendEvent(ev wire.Event) error {
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeSession) Close() error { return nil }

func newServer() *server.Serializer {
	return server.New(logging.NewDefaultLogger(slog.LevelError+4), server.NewMetrics())
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestOnConnectSendsEmptyCatchup(t *testing.T) {
	s := newServer()
	sess := &fakeSession{id: "a"}
	require.NoError(t, s.OnConnect(sess))
	require.Len(t, sess.catchups, 1)
	assert.Empty(t, sess.catchups[0].EventStream)
}

func TestProposeAcceptedInOrder(t *testing.T) {
	s := newServer()
	sess := &fakeSession{id: "a"}
	require.NoError(t, s.OnConnect(sess))

	resp := s.OnPropose(sess, wire.Proposal{
		SharedMsg:          mustMarshal(t, "hello"),
		LatestKnownEventID: 0,
		ClientEventID:      0,
	})
	require.NotNil(t, resp.Accept)
	assert.Equal(t, wire.EventID(1), resp.Accept.EventID)
	assert.Equal(t, wire.ClientEventID(0), resp.Accept.ClientEventID)

	stats := s.Stats()
	assert.Equal(t, 1, stats.LogSize)
	assert.Equal(t, 1, stats.ConnectedSessions)
}

func TestProposeRejectedWhenStale(t *testing.T) {
	s := newServer()
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	require.NoError(t, s.OnConnect(a))
	require.NoError(t, s.OnConnect(b))

	resp := s.OnPropose(a, wire.Proposal{SharedMsg: mustMarshal(t, "first"), LatestKnownEventID: 0, ClientEventID: 0})
	require.NotNil(t, resp.Accept)

	// b is still at LatestKnownEventID 0, which is now stale.
	resp = s.OnPropose(b, wire.Proposal{SharedMsg: mustMarshal(t, "second"), LatestKnownEventID: 0, ClientEventID: 5})
	require.NotNil(t, resp.Reject)
	assert.Equal(t, wire.ClientEventID(5), resp.Reject.ClientEventID)
	require.Len(t, resp.Reject.MissingEvents, 1)
	assert.Equal(t, wire.EventID(1), resp.Reject.MissingEvents[0].ID)
}

func TestAcceptedEventBroadcastExceptProposer(t *testing.T) {
	s := newServer()
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	require.NoError(t, s.OnConnect(a))
	require.NoError(t, s.OnConnect(b))

	resp := s.OnPropose(a, wire.Proposal{SharedMsg: mustMarshal(t, "hi"), LatestKnownEventID: 0, ClientEventID: 0})
	require.NotNil(t, resp.Accept)

	assert.Empty(t, a.events, "proposer gets its result via the response, not a broadcast")
	require.Len(t, b.events, 1)
	assert.Equal(t, wire.EventID(1), b.events[0].ID)
}

func TestDisconnectRemovesSessionFromBroadcast(t *testing.T) {
	s := newServer()
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}
	require.NoError(t, s.OnConnect(a))
	require.NoError(t, s.OnConnect(b))
	s.OnDisconnect(b)

	resp := s.OnPropose(a, wire.Proposal{SharedMsg: mustMarshal(t, "hi"), LatestKnownEventID: 0, ClientEventID: 0})
	require.NotNil(t, resp.Accept)
	assert.Empty(t, b.events)
	assert.Equal(t, 1, s.Stats().ConnectedSessions)
}

func TestRecentEventJSONRoundTrips(t *testing.T) {
	s := newServer()
	a := &fakeSession{id: "a"}
	require.NoError(t, s.OnConnect(a))

	resp := s.OnPropose(a, wire.Proposal{SharedMsg: mustMarshal(t, "hi"), LatestKnownEventID: 0, ClientEventID: 0})
	require.NotNil(t, resp.Accept)

	raw, ok := s.RecentEventJSON(resp.Accept.EventID)
	require.True(t, ok)
	var ev wire.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, resp.Accept.EventID, ev.ID)

	_, ok = s.RecentEventJSON(resp.Accept.EventID + 100)
	assert.False(t, ok)
}
