// Package chatapp is a minimal demo application for pkg/engine: a shared
// append-only chat log, used by cmd/cloudmodel-chat the way
// drpcorg-chotki's cmd/main.go REPL exercised chotki's object store.
package chatapp

import (
	"encoding/json"
	"fmt"

	"github.com/matthewsj/cloudmodel/pkg/engine"
)

// Post is one chat message, shared verbatim as the engine's SharedMsg
// (the server never looks inside it — spec §2 treats SharedMsg as
// opaque).
type Post struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// SharedState is the reconstructed chat log, oldest first.
type SharedState struct {
	Posts []Post
}

// LocalState tracks this client's own identity; it never leaves the
// client and is never proposed.
type LocalState struct {
	Username string
}

// LocalMsg is a purely local notification (e.g. a decode failure) routed
// through the engine's local-message pipeline instead of the shared one.
type LocalMsg struct {
	Notice string
}

// NewAdapter returns an engine.Adapter wiring Post/SharedState/LocalState/
// LocalMsg together. render is invoked (from within the engine's lock, so
// it must not call back into the engine) each time Engine.Render is
// called; the engine does not call it on its own when state changes.
func NewAdapter(username string, render func(SharedState, LocalState)) *engine.Adapter[SharedState, LocalState, Post, LocalMsg] {
	return &engine.Adapter[SharedState, LocalState, Post, LocalMsg]{
		InitShared: func() SharedState { return SharedState{} },
		InitLocal:  func() LocalState { return LocalState{Username: username} },
		ReduceShared: func(msg Post, state SharedState) SharedState {
			state.Posts = append(append([]Post(nil), state.Posts...), msg)
			return state
		},
		ReduceLocal: func(msg LocalMsg, state LocalState) (LocalState, []LocalMsg) {
			return state, nil
		},
		EncodeShared: func(msg Post) (json.RawMessage, error) {
			return json.Marshal(msg)
		},
		DecodeShared: func(raw json.RawMessage) (Post, error) {
			var p Post
			err := json.Unmarshal(raw, &p)
			return p, err
		},
		OnDecodeError: func(errText string) LocalMsg {
			return LocalMsg{Notice: fmt.Sprintf("dropped an unreadable event: %s", errText)}
		},
		View: func(shared SharedState, local LocalState) {
			render(shared, local)
		},
		Rejection: engine.ReapplyAllPending[SharedState, Post]{},
	}
}
