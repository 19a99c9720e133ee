package agent

import (
	"fmt"
	"strings"
)

// ComposeSystemPrompt builds a worker's system prompt from the shared base
// instructions, the worker's identity and the caller's extra instructions.
func ComposeSystemPrompt(base string, req SpawnRequest) string {
	var b strings.Builder

	if base = strings.TrimSpace(base); base != "" {
		b.WriteString(base)
		b.WriteString("\n\n")
	}

	b.WriteString("## Your assignment\n\n")
	fmt.Fprintf(&b, "Name: %s\n", req.Name)
	if req.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", req.Role)
	}
	fmt.Fprintf(&b, "Focus: %s\n", req.Focus)
	if req.WorkItemID != "" {
		fmt.Fprintf(&b, "Work item: %s\n", req.WorkItemID)
	}
	if req.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", req.WorkingDirectory)
	}
	if len(req.WaitFor) > 0 {
		fmt.Fprintf(&b, "Started after: %s\n", strings.Join(req.WaitFor, ", "))
	}

	if extra := strings.TrimSpace(req.SystemPrompt); extra != "" {
		b.WriteString("\n## Additional instructions\n\n")
		b.WriteString(extra)
		b.WriteString("\n")
	}

	return b.String()
}
