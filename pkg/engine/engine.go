// Package engine implements the client reconciliation engine: optimistic
// apply, proposal pipelining, rejection recovery, duplicate suppression and
// predicted-state projection (spec §4.2).
//
// The engine is single-threaded cooperative: every call into it runs to
// completion against the replica before the next begins, mirroring the
// teacher's single-writer-per-replica discipline (drpcorg-chotki's merge
// and apply paths never interleave against one Chotki instance). A mutex
// enforces that here since, unlike chotki, CloudModel's engine may be
// driven by callbacks arriving on different goroutines (a transport's
// read loop and the application's UI goroutine).
package engine

import (
	"fmt"
	"sync"

	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// LocalOrigin is an action produced by the view: either/both fields may be
// set.
type LocalOrigin[SM, LM any] struct {
	LocalMsg      *LM
	ProposedEvent *SM
}

// ErrUnexpectedAccept is logged (never returned, per spec §4.2.4) when an
// Accept arrives with no pending head.
var ErrUnexpectedAccept = fmt.Errorf("cloudmodel: accept with no pending head")

// ErrClientEventIDMismatch is logged (never returned) when an Accept's
// clientEventId does not match the pending head's, per spec §9 Open
// Question 1.
var ErrClientEventIDMismatch = fmt.Errorf("cloudmodel: accept clientEventId does not match pending head")

// Engine is the client-side reconciliation engine. S is SharedState, L is
// LocalState, SM is SharedMsg, LM is LocalMsg.
type Engine[S, L, SM, LM any] struct {
	adapter   Adapter[S, L, SM, LM]
	transport Transport
	log       logging.Logger

	mu sync.Mutex

	latestKnownEventID wire.EventID
	latestKnownShared  S
	pending            pendingQueue[SM]
	local              L
	nextClientEventID  wire.ClientEventID
	waiting            bool // true once the head proposal has been dispatched
}

// New constructs an Engine wired to the given Transport. InitShared/InitLocal
// seed the replica; the catchup fold happens later, when the transport
// delivers it (spec §9 Open Question 3).
func New[S, L, SM, LM any](adapter Adapter[S, L, SM, LM], transport Transport, log logging.Logger) *Engine[S, L, SM, LM] {
	e := &Engine[S, L, SM, LM]{
		adapter:            adapter,
		transport:          transport,
		log:                log,
		latestKnownShared:  adapter.InitShared(),
		local:              adapter.InitLocal(),
		latestKnownEventID: 0,
	}
	transport.OnCatchup(e.handleCatchup)
	transport.OnEvent(e.handleRemoteEvent)
	return e
}

// Dispatch handles a LocalOrigin action: it may run a local reduction, queue
// (and possibly send) a shared proposal, or both (spec §4.2.3).
func (e *Engine[S, L, SM, LM]) Dispatch(action LocalOrigin[SM, LM]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if action.LocalMsg != nil {
		e.applyLocal(*action.LocalMsg)
	}
	if action.ProposedEvent != nil {
		e.enqueueProposal(*action.ProposedEvent)
	}
}

// Predicted returns the shared state the UI should see: the canonical state
// folded with every pending proposal's message, on top. Recomputed on every
// call; never cached (spec §4.2.6, design note "optimistic projection
// without storing it").
func (e *Engine[S, L, SM, LM]) Predicted() S {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictedLocked()
}

func (e *Engine[S, L, SM, LM]) predictedLocked() S {
	state := e.latestKnownShared
	for _, p := range e.pending.all() {
		state = e.adapter.ReduceShared(p.Msg, state)
	}
	return state
}

// Local returns the current local state.
func (e *Engine[S, L, SM, LM]) Local() L {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// Render invokes the adapter's View with the current predicted shared
// state and local state, if a View was supplied.
func (e *Engine[S, L, SM, LM]) Render() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter.View != nil {
		e.adapter.View(e.predictedLocked(), e.local)
	}
}

func (e *Engine[S, L, SM, LM]) applyLocal(msg LM) {
	newLocal, followUps := e.adapter.ReduceLocal(msg, e.local)
	e.local = newLocal
	for _, f := range followUps {
		e.applyLocal(f)
	}
}

func (e *Engine[S, L, SM, LM]) enqueueProposal(msg SM) {
	cid := e.nextClientEventID
	e.nextClientEventID++
	wasEmpty := e.pending.empty()
	e.pending.pushBack(PendingProposal[SM]{ClientEventID: cid, Msg: msg})
	if wasEmpty {
		// Head-only send rule (spec §4.2.3 rationale): only the head of an
		// empty queue gets a pipeline slot; later proposals wait behind it.
		e.dispatchHead()
	}
}

// dispatchHead sends the queue's current head to the transport. Must be
// called with mu held. It temporarily releases mu around the actual send:
// a memory.Transport invokes its callback synchronously, and the callback
// itself needs mu, so holding it across the call would deadlock. The
// caller's invariant ("returns with mu held") is preserved either way.
func (e *Engine[S, L, SM, LM]) dispatchHead() {
	head, ok := e.pending.front()
	if !ok {
		return
	}
	raw, err := e.adapter.EncodeShared(head.Msg)
	if err != nil {
		e.log.Error("engine: failed to encode proposal", "err", err)
		return
	}
	e.waiting = true
	proposal := wire.Proposal{
		SharedMsg:          raw,
		LatestKnownEventID: e.latestKnownEventID,
		ClientEventID:      head.ClientEventID,
	}
	e.mu.Unlock()
	e.transport.Propose(proposal, func(resp wire.ProposalResponse) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.waiting = false
		switch {
		case resp.Accept != nil:
			e.handleAcceptLocked(*resp.Accept)
		case resp.Reject != nil:
			e.handleRejectLocked(*resp.Reject)
		default:
			e.log.Error("engine: proposal response has neither accept nor reject")
		}
	})
	e.mu.Lock()
}

// handleAcceptLocked implements spec §4.2.4 Accept handling. Must be
// called with mu held.
func (e *Engine[S, L, SM, LM]) handleAcceptLocked(accept wire.Accept) {
	head, ok := e.pending.front()
	if !ok {
		e.log.Warn("engine: ignoring accept with no pending head", "err", ErrUnexpectedAccept, "clientEventId", accept.ClientEventID)
		return
	}
	if head.ClientEventID != accept.ClientEventID {
		e.log.Error("engine: protocol error", "err", ErrClientEventIDMismatch,
			"head", head.ClientEventID, "accept", accept.ClientEventID)
		return
	}
	e.latestKnownShared = e.adapter.ReduceShared(head.Msg, e.latestKnownShared)
	e.latestKnownEventID = accept.EventID
	e.pending.popFront()
	if !e.pending.empty() {
		e.dispatchHead()
	}
}

// handleRejectLocked implements spec §4.2.4 Reject handling. Must be
// called with mu held.
func (e *Engine[S, L, SM, LM]) handleRejectLocked(reject wire.Reject) {
	e.foldRemoteLocked(reject.MissingEvents)

	oldPending := e.pending.all()
	newPending := e.adapter.Rejection.Resolve(oldPending, e.latestKnownShared)
	e.pending.reset(newPending)

	if !e.pending.empty() {
		e.dispatchHead()
	}
}

// handleCatchup folds the one-time catchup bundle into canonical state.
func (e *Engine[S, L, SM, LM]) handleCatchup(catchup wire.Catchup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foldRemoteLocked(catchup.EventStream)
}

// handleRemoteEvent implements spec §4.2.5 RemoteOrigin handling for a
// single broadcast event.
func (e *Engine[S, L, SM, LM]) handleRemoteEvent(ev wire.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foldRemoteLocked([]wire.Event{ev})
}

// foldRemoteLocked folds every event whose id is ahead of
// latestKnownEventID into canonical state, in order, dropping duplicates
// (spec §4.2.5, P5). Decode failures are coerced into a local-error action
// and never advance latestKnownEventID. Must be called with mu held.
func (e *Engine[S, L, SM, LM]) foldRemoteLocked(events []wire.Event) {
	for _, ev := range events {
		if ev.ID <= e.latestKnownEventID {
			continue // duplicate; catchup/broadcast races make this routine
		}
		msg, err := e.adapter.DecodeShared(ev.Msg)
		if err != nil {
			e.surfaceDecodeErrorLocked(err)
			continue
		}
		e.latestKnownShared = e.adapter.ReduceShared(msg, e.latestKnownShared)
		e.latestKnownEventID = ev.ID
	}
}

func (e *Engine[S, L, SM, LM]) surfaceDecodeErrorLocked(err error) {
	localMsg := e.adapter.OnDecodeError(err.Error())
	e.applyLocal(localMsg)
}
