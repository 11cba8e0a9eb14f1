package engine_test

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewsj/cloudmodel/pkg/engine"
	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/server"
	"github.com/matthewsj/cloudmodel/pkg/transport/memory"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

const discardLevel = slog.LevelError + 4 // above Error, so tests stay quiet

// fakeTransport captures Propose calls instead of answering them, so tests
// can drive Accept/Reject responses by hand.
type fakeTransport struct {
	onCatchup    func(wire.Catchup)
	onEvent      func(wire.Event)
	lastProposal wire.Proposal
	lastCallback func(wire.ProposalResponse)
}

var _ engine.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Propose(p wire.Proposal, callback func(wire.ProposalResponse)) {
	f.lastProposal = p
	f.lastCallback = callback
}

func (f *fakeTransport) OnCatchup(handler func(wire.Catchup)) { f.onCatchup = handler }
func (f *fakeTransport) OnEvent(handler func(wire.Event))     { f.onEvent = handler }

// counterAdapter is a minimal application: SharedState/LocalState are both
// plain ints, SharedMsg is a delta to add, LocalMsg is unused.

func counterAdapter(rejection engine.RejectionStrategy[int, int]) *engine.Adapter[int, int, int, string] {
	return &engine.Adapter[int, int, int, string]{
		InitShared:   func() int { return 0 },
		InitLocal:    func() int { return 0 },
		ReduceShared: func(delta int, state int) int { return state + delta },
		ReduceLocal:  func(msg string, state int) (int, []string) { return state, nil },
		EncodeShared: func(delta int) (json.RawMessage, error) { return json.Marshal(delta) },
		DecodeShared: func(raw json.RawMessage) (int, error) {
			var d int
			err := json.Unmarshal(raw, &d)
			return d, err
		},
		OnDecodeError: func(errText string) string { return errText },
		Rejection:     rejection,
	}
}

func newTestLogger() logging.Logger {
	return logging.NewDefaultLogger(discardLevel)
}

func newHarness(t *testing.T, rejection engine.RejectionStrategy[int, int]) (*engine.Engine[int, int, int, string], *server.Serializer) {
	t.Helper()
	log := newTestLogger()
	srv := server.New(log, server.NewMetrics())
	link := memory.New(srv, "client-1")
	eng := engine.New(*counterAdapter(rejection), link, log)
	require.NoError(t, link.Connect())
	return eng, srv
}

func propose(t *testing.T, eng *engine.Engine[int, int, int, string], delta int) {
	t.Helper()
	eng.Dispatch(engine.LocalOrigin[int, string]{ProposedEvent: &delta})
}

func TestSingleProposalAccepted(t *testing.T) {
	eng, _ := newHarness(t, engine.DropAllPending[int, int]{})
	propose(t, eng, 5)
	assert.Equal(t, 5, eng.Predicted())
}

func TestPipeliningUnderOptimism(t *testing.T) {
	eng, _ := newHarness(t, engine.ReapplyAllPending[int, int]{})
	propose(t, eng, 1)
	propose(t, eng, 2)
	propose(t, eng, 3)
	// Every proposal accepted synchronously against the in-memory transport,
	// so by the time Dispatch returns the whole chain has settled.
	assert.Equal(t, 6, eng.Predicted())
}

func TestTwoClientsInterleave(t *testing.T) {
	log := newTestLogger()
	srv := server.New(log, server.NewMetrics())

	linkA := memory.New(srv, "a")
	linkB := memory.New(srv, "b")

	engA := engine.New(*counterAdapter(engine.ReapplyAllPending[int, int]{}), linkA, log)
	engB := engine.New(*counterAdapter(engine.ReapplyAllPending[int, int]{}), linkB, log)
	require.NoError(t, linkA.Connect())
	require.NoError(t, linkB.Connect())

	propose(t, engA, 10)
	propose(t, engB, 100)

	// Both accepted, with no reject: the in-memory transport delivers A's
	// broadcast (id 1) to B before B proposes, so B is caught up at id 1.
	assert.Equal(t, 110, engA.Predicted())
	assert.Equal(t, 110, engB.Predicted())
}

func TestCatchupOnReconnect(t *testing.T) {
	log := newTestLogger()
	srv := server.New(log, server.NewMetrics())

	linkA := memory.New(srv, "a")
	engA := engine.New(*counterAdapter(engine.DropAllPending[int, int]{}), linkA, log)
	require.NoError(t, linkA.Connect())
	propose(t, engA, 7)
	require.Equal(t, 7, engA.Predicted())

	linkB := memory.New(srv, "b")
	engB := engine.New(*counterAdapter(engine.DropAllPending[int, int]{}), linkB, log)
	require.NoError(t, linkB.Connect())
	assert.Equal(t, 7, engB.Predicted())
}

func TestDuplicateEventSuppressed(t *testing.T) {
	log := newTestLogger()
	srv := server.New(log, server.NewMetrics())
	link := memory.New(srv, "a")
	eng := engine.New(*counterAdapter(engine.DropAllPending[int, int]{}), link, log)
	require.NoError(t, link.Connect())

	propose(t, eng, 4)
	require.Equal(t, 4, eng.Predicted())

	// Replaying an event already folded (id 1) must not double-apply.
	link.SendEvent(wire.Event{ID: 1, Msg: mustMarshal(4)})
	assert.Equal(t, 4, eng.Predicted())
}

func TestDropAllPendingOnReject(t *testing.T) {
	transport := &fakeTransport{}
	eng := engine.New(*counterAdapter(engine.DropAllPending[int, int]{}), transport, newTestLogger())

	propose(t, eng, 9)
	require.Equal(t, 9, eng.Predicted(), "optimistic prediction before any server reply")

	// Server rejects: it had already accepted a different event (id 1,
	// delta 100) that this client didn't know about yet.
	transport.lastCallback(wire.ProposalResponse{Reject: &wire.Reject{
		ClientEventID: 0,
		MissingEvents: []wire.Event{{ID: 1, Msg: mustMarshal(100)}},
	}})

	// The missed event folds into canonical state, and DropAllPending
	// discards the client's own in-flight proposal rather than re-sending it.
	assert.Equal(t, 100, eng.Predicted())
}

func TestReapplyAllPendingOnReject(t *testing.T) {
	transport := &fakeTransport{}
	eng := engine.New(*counterAdapter(engine.ReapplyAllPending[int, int]{}), transport, newTestLogger())

	propose(t, eng, 9)
	transport.lastCallback(wire.ProposalResponse{Reject: &wire.Reject{
		ClientEventID: 0,
		MissingEvents: []wire.Event{{ID: 1, Msg: mustMarshal(100)}},
	}})

	// The rejected proposal is re-sent on top of the caught-up state, so the
	// prediction still includes it even before the re-send is accepted.
	assert.Equal(t, 109, eng.Predicted())
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
