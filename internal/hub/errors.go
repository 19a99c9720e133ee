package hub

import (
	"errors"
	"net/http"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/workitem"
)

var errBadRequest = errors.New("bad request")

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, agent.ErrNotFound),
		errors.Is(err, mailbox.ErrNotFound),
		errors.Is(err, lease.ErrNotFound),
		errors.Is(err, workitem.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, errBadRequest),
		errors.Is(err, agent.ErrInvalidRequest),
		errors.Is(err, agent.ErrDependencyCycle),
		errors.Is(err, workitem.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, lease.ErrConflict),
		errors.Is(err, agent.ErrBusy),
		errors.Is(err, agent.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, agent.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
