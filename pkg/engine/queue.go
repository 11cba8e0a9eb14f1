package engine

import "github.com/matthewsj/cloudmodel/pkg/wire"

// PendingProposal is a shared message the client has dispatched (or
// queued to dispatch) but whose server outcome is unknown.
type PendingProposal[SM any] struct {
	ClientEventID wire.ClientEventID
	Msg           SM
}

// pendingQueue is an ordered sequence of PendingProposal with cheap head
// removal and tail append, adapted from toyqueue's RecordQueue: CloudModel
// needs no blocking Drain/Feed semantics (the engine is single-threaded
// cooperative, per spec §5), just the head-queue shape, so this trims the
// condvar machinery down to a plain slice with a moving head index.
type pendingQueue[SM any] struct {
	items []PendingProposal[SM]
	head  int
}

func (q *pendingQueue[SM]) len() int {
	return len(q.items) - q.head
}

func (q *pendingQueue[SM]) empty() bool {
	return q.len() == 0
}

func (q *pendingQueue[SM]) pushBack(p PendingProposal[SM]) {
	q.items = append(q.items, p)
}

func (q *pendingQueue[SM]) front() (PendingProposal[SM], bool) {
	if q.empty() {
		return PendingProposal[SM]{}, false
	}
	return q.items[q.head], true
}

// popFront removes and returns the head proposal.
func (q *pendingQueue[SM]) popFront() (PendingProposal[SM], bool) {
	p, ok := q.front()
	if !ok {
		return p, false
	}
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = nil, 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		// Compact occasionally so a long-lived engine doesn't grow its
		// backing array unbounded under steady pipelined traffic.
		q.items = append([]PendingProposal[SM]{}, q.items[q.head:]...)
		q.head = 0
	}
	return p, true
}

// all returns every pending proposal, in submission order.
func (q *pendingQueue[SM]) all() []PendingProposal[SM] {
	out := make([]PendingProposal[SM], q.len())
	copy(out, q.items[q.head:])
	return out
}

// reset replaces the queue's contents wholesale (used by rejection
// recovery, which computes a brand new queue from a RejectionStrategy).
func (q *pendingQueue[SM]) reset(items []PendingProposal[SM]) {
	q.items = items
	q.head = 0
}
