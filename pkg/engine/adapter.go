package engine

import "encoding/json"

// Adapter is the fixed capability set the application supplies to the
// engine: codecs and reducers for its shared and local message/state
// types, view rendering, and the rejection policy. S is SharedState, L is
// LocalState, SM is SharedMsg, LM is LocalMsg.
type Adapter[S, L, SM, LM any] struct {
	// InitShared returns the zero shared state, before any event has been
	// folded into it.
	InitShared func() S
	// InitLocal returns the zero local state.
	InitLocal func() L

	// ReduceShared folds a shared message into shared state. Must be pure
	// and deterministic: every client must converge to the same value
	// given the same event sequence.
	ReduceShared func(msg SM, state S) S

	// ReduceLocal folds a local message into local state, optionally
	// emitting follow-up local messages to be dispatched in turn.
	ReduceLocal func(msg LM, state L) (L, []LM)

	// EncodeShared/DecodeShared bridge between the application's SharedMsg
	// type and the opaque JSON carried on the wire.
	EncodeShared func(msg SM) (json.RawMessage, error)
	DecodeShared func(raw json.RawMessage) (SM, error)

	// OnDecodeError turns a decode failure into a local message so the
	// application can surface it to the user. Decode failures never
	// advance latestKnownEventId and never crash the engine.
	OnDecodeError func(errText string) LM

	// View renders the predicted shared state and local state. The UI type is out
	// of scope for CloudModel; View is typically nil in non-UI tests.
	View func(shared S, local L)

	// Rejection governs what happens to the pending queue after a
	// rejected proposal.
	Rejection RejectionStrategy[S, SM]
}
