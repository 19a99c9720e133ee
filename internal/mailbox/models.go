package mailbox

import (
	"errors"
	"time"
)

// Reserved participant identities.
const (
	Orchestrator = "orchestrator"
	User         = "user"
)

// ErrNotFound is returned for unknown message ids.
var ErrNotFound = errors.New("message not found")

// Message is a piece of mail between two participants.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Archived  bool      `json:"archived"`
}

// Header is the message without its body, as shown in inbox listings.
type Header struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Archived  bool      `json:"archived"`
}

// Header strips the body.
func (m *Message) Header() Header {
	return Header{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Subject:   m.Subject,
		Timestamp: m.Timestamp,
		Read:      m.Read,
		Archived:  m.Archived,
	}
}

// EventType identifies a mailbox event.
type EventType string

const (
	EventReceived   EventType = "mail.received"
	EventRead       EventType = "mail.read"
	EventArchived   EventType = "mail.archived"
	EventUnarchived EventType = "mail.unarchived"
	EventDeleted    EventType = "mail.deleted"
)

// Event represents a mailbox state change
type Event struct {
	Type      EventType `json:"type"`
	Message   Header    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SendRequest is the request to send a message
type SendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Filter narrows an inbox listing.
type Filter struct {
	IncludeArchived bool
	UnreadOnly      bool
	Limit           int // most recent N when > 0
}
