package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleEvents handles GET /events using Server-Sent Events.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := h.events.Subscribe(64)
	defer h.events.Unsubscribe(client)

	st := h.pool.Status()
	h.sendSSE(w, flusher, Event{
		Type: EventConnected,
		Data: map[string]interface{}{
			"agents_live":    len(st.Agents),
			"agents_pending": len(st.Pending),
			"queue_depth":    h.orch.QueueDepth(),
		},
		Timestamp: time.Now(),
	})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client:
			if !ok {
				return
			}
			h.sendSSE(w, flusher, ev)
		}
	}
}

// sendSSE writes one event in SSE framing.
func (h *Hub) sendSSE(w http.ResponseWriter, flusher http.Flusher, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Debug("encoding event %s: %v", ev.Type, err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", ev.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
