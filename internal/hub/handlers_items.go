package hub

import (
	"net/http"
	"strings"

	"github.com/mbourmaud/conductor/internal/workitem"
)

// handleListItems handles GET /items?status=
func (h *Hub) handleListItems(w http.ResponseWriter, r *http.Request) {
	var status workitem.Status
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := workitem.ParseStatus(s)
		if err != nil {
			h.fail(w, err)
			return
		}
		status = st
	}

	items, err := h.orch.Items().List(r.Context(), status)
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []*workitem.Item{}
	}
	h.jsonResponse(w, http.StatusOK, items)
}

// handleCreateItem handles POST /items
func (h *Hub) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req workitem.CreateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.jsonError(w, http.StatusBadRequest, "title is required")
		return
	}

	it, err := h.orch.Items().Create(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, it)
}

// handleGetItem handles GET /items/{id}
func (h *Hub) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.orch.Items().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, it)
}

// handleMoveItem handles POST /items/{id}/move
func (h *Hub) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	status, err := workitem.ParseStatus(req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}

	it, err := h.orch.Items().Move(r.Context(), r.PathValue("id"), status)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, it)
}
