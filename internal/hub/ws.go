package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const wsWriteTimeout = 15 * time.Second

// handleWebSocket handles GET /ws. It carries the same events as /events,
// one JSON object per text frame.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Debug("websocket accept: %v", err)
		return
	}
	defer ws.CloseNow()

	client := h.events.Subscribe(64)
	defer h.events.Unsubscribe(client)

	// Reads are only needed to observe the peer closing.
	ctx := ws.CloseRead(r.Context())

	st := h.pool.Status()
	if err := h.writeWS(ctx, ws, Event{
		Type: EventConnected,
		Data: map[string]interface{}{
			"agents_live":    len(st.Agents),
			"agents_pending": len(st.Pending),
			"queue_depth":    h.orch.QueueDepth(),
		},
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client:
			if !ok {
				ws.Close(websocket.StatusGoingAway, "hub stopping")
				return
			}
			if err := h.writeWS(ctx, ws, ev); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeWS(ctx context.Context, ws *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Debug("encoding event %s: %v", ev.Type, err)
		return nil
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
