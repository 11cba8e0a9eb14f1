// Package websocket implements the transport over gorilla/websocket with
// JSON text frames, dispatching by a "type" field exactly the way
// asadovsky-cdb's server/hub/hub.go dispatches its own MsgType-tagged
// messages: decode the type first, then decode the full envelope.
package websocket

import "github.com/matthewsj/cloudmodel/pkg/wire"

type envelope struct {
	Type string `json:"type"`
}

const (
	typeCatchup          = "catchup"
	typeEvent            = "event"
	typePropose          = "propose"
	typeProposalResponse = "proposalResponse"
)

type catchupMsg struct {
	Type string `json:"type"`
	wire.Catchup
}

type eventMsg struct {
	Type string `json:"type"`
	wire.Event
}

type proposeMsg struct {
	Type string `json:"type"`
	wire.Proposal
}

type proposalResponseMsg struct {
	Type string `json:"type"`
	wire.ProposalResponse
}

// responseClientEventID extracts the ClientEventID a ProposalResponse
// correlates to, whichever of Accept/Reject is set.
func responseClientEventID(resp wire.ProposalResponse) (wire.ClientEventID, bool) {
	switch {
	case resp.Accept != nil:
		return resp.Accept.ClientEventID, true
	case resp.Reject != nil:
		return resp.Reject.ClientEventID, true
	default:
		return 0, false
	}
}
