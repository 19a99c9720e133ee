package hub

import (
	"net/http"
	"time"

	"github.com/mbourmaud/conductor/internal/lease"
)

// handleListLeases handles GET /leases?agent=
func (h *Hub) handleListLeases(w http.ResponseWriter, r *http.Request) {
	var claims []lease.Claim
	if name := r.URL.Query().Get("agent"); name != "" {
		claims = h.pool.Leases().ForAgent(name)
	} else {
		claims = h.pool.Leases().Unexpired(time.Now())
	}
	if claims == nil {
		claims = []lease.Claim{}
	}
	h.jsonResponse(w, http.StatusOK, claims)
}

// handleAcquireLeases handles POST /leases
func (h *Hub) handleAcquireLeases(w http.ResponseWriter, r *http.Request) {
	var req lease.AcquireRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if len(req.Patterns) == 0 {
		h.jsonError(w, http.StatusBadRequest, "patterns are required")
		return
	}

	res, err := h.pool.Claim(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, res)
}

// handleReleaseLease handles DELETE /leases/{id}
func (h *Hub) handleReleaseLease(w http.ResponseWriter, r *http.Request) {
	c, err := h.pool.ReleaseClaim(r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, c)
}
