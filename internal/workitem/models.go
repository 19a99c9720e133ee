// Package workitem is the Kanban-style work item board the orchestrator
// assigns work from.
package workitem

import (
	"errors"
	"fmt"
	"time"
)

// Status is a board column.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusDoing      Status = "doing"
	StatusCodeReview Status = "code-review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every column in board order.
var Statuses = []Status{StatusTodo, StatusDoing, StatusCodeReview, StatusDone, StatusCancelled}

var (
	ErrNotFound      = errors.New("work item not found")
	ErrInvalidStatus = errors.New("invalid work item status")
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Item is one card on the board.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest is the request to create an item
type CreateRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Status      Status   `json:"status,omitempty"` // defaults to todo
}

// Patch holds optional field updates; nil fields are left unchanged.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
}

func (p Patch) apply(it *Item) {
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Assignee != nil {
		it.Assignee = *p.Assignee
	}
	if p.Labels != nil {
		it.Labels = append([]string(nil), (*p.Labels)...)
	}
}

// FormatID renders the sequential id of the n-th item.
func FormatID(n int) string {
	return fmt.Sprintf("WI-%03d", n)
}

func validateCreate(req *CreateRequest) error {
	if req.Title == "" {
		return fmt.Errorf("title is required")
	}
	if req.Status == "" {
		req.Status = StatusTodo
	}
	if _, err := ParseStatus(string(req.Status)); err != nil {
		return err
	}
	return nil
}
