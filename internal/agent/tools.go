package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/runtime"
)

// Worker tool names.
const (
	ToolSendMail     = "send_mail"
	ToolCheckInbox   = "check_inbox"
	ToolReadMail     = "read_mail"
	ToolArchiveMail  = "archive_mail"
	ToolClaimFiles   = "claim_files"
	ToolReleaseFiles = "release_files"
	ToolListClaims   = "list_claims"
	ToolMarkComplete = "mark_complete"
)

// WorkerTools returns the tools every worker gets.
func WorkerTools() []runtime.ToolSpec {
	return []runtime.ToolSpec{
		{
			Name:        ToolSendMail,
			Description: "Send a message to another agent or to the orchestrator. The recipient is notified and reads it with read_mail.",
			Parameters: map[string]runtime.Param{
				"to":      {Type: "string", Description: "Recipient agent name, or \"orchestrator\""},
				"subject": {Type: "string", Description: "Short subject line"},
				"body":    {Type: "string", Description: "Message body"},
			},
			Required: []string{"to", "subject", "body"},
		},
		{
			Name:        ToolCheckInbox,
			Description: "List messages in your inbox (headers only).",
			Parameters: map[string]runtime.Param{
				"include_archived": {Type: "boolean", Description: "Include archived messages"},
				"unread_only":      {Type: "boolean", Description: "Only list unread messages"},
			},
		},
		{
			Name:        ToolReadMail,
			Description: "Read a message by id and mark it read.",
			Parameters: map[string]runtime.Param{
				"id": {Type: "string", Description: "Message id"},
			},
			Required: []string{"id"},
		},
		{
			Name:        ToolArchiveMail,
			Description: "Archive a message by id.",
			Parameters: map[string]runtime.Param{
				"id": {Type: "string", Description: "Message id"},
			},
			Required: []string{"id"},
		},
		{
			Name:        ToolClaimFiles,
			Description: "Claim files you intend to modify, as glob patterns (** spans directories, * does not). Overlapping claims of other agents are reported.",
			Parameters: map[string]runtime.Param{
				"patterns":    {Type: "array", Description: "Glob patterns", Items: &runtime.Param{Type: "string"}},
				"exclusive":   {Type: "boolean", Description: "Ask others to keep out of these files"},
				"reason":      {Type: "string", Description: "What you are changing"},
				"ttl_minutes": {Type: "integer", Description: "Claim lifetime in minutes (default 60)"},
			},
			Required: []string{"patterns"},
		},
		{
			Name:        ToolReleaseFiles,
			Description: "Release all of your file claims.",
		},
		{
			Name:        ToolListClaims,
			Description: "List all active file claims.",
		},
		{
			Name:        ToolMarkComplete,
			Description: "Mark your assignment as complete. Agents waiting on you will start.",
			Parameters: map[string]runtime.Param{
				"summary": {Type: "string", Description: "One-paragraph summary of what you did"},
			},
			Required: []string{"summary"},
		},
	}
}

// HandleToolCall runs a worker tool on behalf of agentName.
func (p *Pool) HandleToolCall(ctx context.Context, agentName string, call runtime.ToolInvocation) (string, error) {
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	switch call.Name {
	case ToolSendMail:
		return p.toolSendMail(ctx, agentName, args)
	case ToolCheckInbox:
		return p.toolCheckInbox(ctx, agentName, args)
	case ToolReadMail:
		return p.toolReadMail(ctx, agentName, args)
	case ToolArchiveMail:
		return p.toolArchiveMail(ctx, agentName, args)
	case ToolClaimFiles:
		return p.toolClaimFiles(ctx, agentName, args)
	case ToolReleaseFiles:
		released := p.leases.Release(agentName)
		p.publishClaims(agentName)
		return fmt.Sprintf("Released %d claim(s).", len(released)), nil
	case ToolListClaims:
		return FormatClaims(p.leases.Unexpired(time.Now())), nil
	case ToolMarkComplete:
		if err := p.Complete(agentName, runtime.StringArg(args, "summary")); err != nil {
			return "", err
		}
		return "Marked complete.", nil
	default:
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
}

func (p *Pool) toolSendMail(ctx context.Context, from string, args map[string]interface{}) (string, error) {
	to := strings.TrimSpace(runtime.StringArg(args, "to"))
	if to == "" {
		return "", fmt.Errorf("to is required")
	}
	if to == from {
		return "", fmt.Errorf("cannot send mail to yourself")
	}
	msg, err := p.SendMail(ctx, mailbox.SendRequest{
		From:    from,
		To:      to,
		Subject: runtime.StringArg(args, "subject"),
		Body:    runtime.StringArg(args, "body"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent message %s to %s.", msg.ID, to), nil
}

func (p *Pool) toolCheckInbox(ctx context.Context, owner string, args map[string]interface{}) (string, error) {
	msgs, err := p.mail.Inbox(ctx, owner, mailbox.Filter{
		IncludeArchived: runtime.BoolArg(args, "include_archived"),
		UnreadOnly:      runtime.BoolArg(args, "unread_only"),
	})
	if err != nil {
		return "", err
	}
	return FormatInbox(msgs), nil
}

func (p *Pool) toolReadMail(ctx context.Context, reader string, args map[string]interface{}) (string, error) {
	id := runtime.StringArg(args, "id")
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	msg, err := p.mail.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if msg.To != reader && msg.From != reader {
		return "", fmt.Errorf("%w: %s", mailbox.ErrNotFound, id)
	}
	if msg.To == reader && !msg.Read {
		if msg, err = p.mail.Read(ctx, id); err != nil {
			return "", err
		}
	}
	return FormatMessage(msg), nil
}

func (p *Pool) toolArchiveMail(ctx context.Context, owner string, args map[string]interface{}) (string, error) {
	id := runtime.StringArg(args, "id")
	msg, err := p.mail.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if msg.To != owner {
		return "", fmt.Errorf("%w: %s", mailbox.ErrNotFound, id)
	}
	if err := p.mail.Archive(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("Archived %s.", id), nil
}

func (p *Pool) toolClaimFiles(ctx context.Context, owner string, args map[string]interface{}) (string, error) {
	req := lease.AcquireRequest{
		AgentName: owner,
		Patterns:  runtime.StringsArg(args, "patterns"),
		Exclusive: runtime.BoolArg(args, "exclusive"),
		Reason:    runtime.StringArg(args, "reason"),
	}
	if ttl := runtime.IntArg(args, "ttl_minutes", 0); ttl > 0 {
		req.TTL = time.Duration(ttl) * time.Minute
	}

	res, err := p.Claim(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Claimed %d pattern(s):\n", len(res.Claims))
	for _, c := range res.Claims {
		fmt.Fprintf(&b, "- %s", c.Pattern)
		if c.Exclusive {
			b.WriteString(" (exclusive)")
		}
		fmt.Fprintf(&b, " until %s\n", c.ExpiresAt.Format(time.Kitchen))
	}
	if len(res.Conflicts) > 0 {
		b.WriteString("Warning: these claims of other agents overlap yours; coordinate before editing:\n")
		for _, c := range res.Conflicts {
			fmt.Fprintf(&b, "- %s holds %s", c.AgentName, c.Pattern)
			if c.Exclusive {
				b.WriteString(" (exclusive)")
			}
			if c.Reason != "" {
				fmt.Fprintf(&b, ": %s", c.Reason)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FormatInbox renders message headers, one per line.
func FormatInbox(msgs []*mailbox.Message) string {
	if len(msgs) == 0 {
		return "No messages."
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		state := "read"
		if !m.Read {
			state = "unread"
		}
		if m.Archived {
			state += ", archived"
		}
		fmt.Fprintf(&b, "- [%s] id=%s from=%s subject=%q", state, m.ID, m.From, m.Subject)
	}
	return b.String()
}

// FormatMessage renders a full message.
func FormatMessage(m *mailbox.Message) string {
	return fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\nDate: %s\n\n%s",
		m.From, m.To, m.Subject, m.Timestamp.Format(time.RFC3339), m.Body)
}

// FormatClaims renders claims, one per line.
func FormatClaims(claims []lease.Claim) string {
	if len(claims) == 0 {
		return "No active claims."
	}
	var b strings.Builder
	for i, c := range claims {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s", c.AgentName, c.Pattern)
		if c.Exclusive {
			b.WriteString(" (exclusive)")
		}
		if c.Reason != "" {
			fmt.Fprintf(&b, " - %s", c.Reason)
		}
	}
	return b.String()
}
