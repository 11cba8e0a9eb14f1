package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/matthewsj/cloudmodel/pkg/wire"
)

// DebugHandler serves operator diagnostics over HTTP, the JSON-over-HTTP
// analogue of drpcorg-chotki's DumpAll: instead of dumping pebble's object
// and version-vector keyspaces to an io.Writer, it reports the
// serializer's session count and log size or, given ?eventId=N, one
// recently accepted event straight from the in-memory cache.
type DebugHandler struct {
	s *Serializer
}

// NewDebugHandler returns an http.Handler rooted at "/"; mount it under a
// path such as "/debug/cloudmodel/".
func NewDebugHandler(s *Serializer) *DebugHandler {
	return &DebugHandler{s: s}
}

func (h *DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("eventId") {
	case "":
		h.writeStats(w)
	default:
		h.writeEvent(w, r)
	}
}

func (h *DebugHandler) writeStats(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.s.Stats())
}

func (h *DebugHandler) writeEvent(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(r.URL.Query().Get("eventId"), 10, 64)
	if err != nil {
		http.Error(w, "eventId must be a non-negative integer", http.StatusBadRequest)
		return
	}
	raw, ok := h.s.RecentEventJSON(wire.EventID(n))
	if !ok {
		http.Error(w, "event not in recent cache", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}
