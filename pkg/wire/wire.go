// Package wire defines the JSON-encoded messages exchanged between the
// CloudModel client reconciliation engine and the server serializer.
package wire

import "encoding/json"

// EventID is a monotonically increasing, server-assigned id. The first
// event in any log has id 1; a fresh client advertises EventID(0).
type EventID uint64

// ClientEventID is a client-local monotonic id identifying a proposal
// across retries. It is locally scoped: the server echoes it back in
// responses but never interprets it.
type ClientEventID uint64

// Event is a single accepted, id-bearing record in the canonical log.
// Msg is opaque application JSON; the server never looks inside it.
type Event struct {
	ID  EventID         `json:"id"`
	Msg json.RawMessage `json:"msg"`
}

// Proposal is a client->server request to append a shared message.
type Proposal struct {
	SharedMsg          json.RawMessage `json:"sharedMsg"`
	LatestKnownEventID EventID         `json:"latestKnownEventId"`
	ClientEventID      ClientEventID   `json:"clientEventId"`
}

// Accept acknowledges a proposal, reporting the id the server assigned it.
type Accept struct {
	ClientEventID ClientEventID `json:"clientEventId"`
	EventID       EventID       `json:"eventId"`
}

// Reject reports that a proposal was stale, along with the events the
// proposer was missing.
type Reject struct {
	ClientEventID ClientEventID `json:"clientEventId"`
	MissingEvents []Event       `json:"missingEvents"`
}

// ProposalResponse is the reply envelope for a Proposal: exactly one of
// Accept or Reject is set.
type ProposalResponse struct {
	Accept *Accept `json:"accept,omitempty"`
	Reject *Reject `json:"reject,omitempty"`
}

// Catchup is the bundle of every historical event, sent once per session
// immediately on connect.
type Catchup struct {
	EventStream []Event `json:"eventStream"`
}
