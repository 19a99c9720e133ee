package hub

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mbourmaud/conductor/internal/mailbox"
)

// handleListMail handles GET /mail?participant=&unread_only=&include_archived=&limit=
// Listings carry headers only; bodies are fetched one message at a time.
func (h *Hub) handleListMail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	participant := q.Get("participant")
	if participant == "" {
		participant = mailbox.User
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	msgs, err := h.pool.Mail().Inbox(r.Context(), participant, mailbox.Filter{
		UnreadOnly:      q.Get("unread_only") == "true",
		IncludeArchived: q.Get("include_archived") == "true",
		Limit:           limit,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	headers := make([]mailbox.Header, len(msgs))
	for i, m := range msgs {
		headers[i] = m.Header()
	}
	h.jsonResponse(w, http.StatusOK, headers)
}

// handleSendMail handles POST /mail
func (h *Hub) handleSendMail(w http.ResponseWriter, r *http.Request) {
	var req mailbox.SendRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.From == "" {
		req.From = mailbox.User
	}
	if req.To == "" {
		h.jsonError(w, http.StatusBadRequest, "to is required")
		return
	}

	msg, err := h.pool.SendMail(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, msg)
}

// handleGetMail handles GET /mail/{id}
func (h *Hub) handleGetMail(w http.ResponseWriter, r *http.Request) {
	msg, err := h.pool.Mail().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, msg)
}

// handleReadMail handles POST /mail/{id}/read
func (h *Hub) handleReadMail(w http.ResponseWriter, r *http.Request) {
	msg, err := h.pool.Mail().Read(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, msg)
}

// handleArchiveMail handles POST /mail/{id}/archive
func (h *Hub) handleArchiveMail(w http.ResponseWriter, r *http.Request) {
	h.mailAction(w, r, "archived", h.pool.Mail().Archive)
}

// handleUnarchiveMail handles POST /mail/{id}/unarchive
func (h *Hub) handleUnarchiveMail(w http.ResponseWriter, r *http.Request) {
	h.mailAction(w, r, "unarchived", h.pool.Mail().Unarchive)
}

// handleDeleteMail handles DELETE /mail/{id}
func (h *Hub) handleDeleteMail(w http.ResponseWriter, r *http.Request) {
	h.mailAction(w, r, "deleted", h.pool.Mail().Delete)
}

func (h *Hub) mailAction(w http.ResponseWriter, r *http.Request, done string, action func(ctx context.Context, id string) error) {
	id := r.PathValue("id")
	if err := action(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"status": done, "id": id})
}
