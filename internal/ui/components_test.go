package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func TestMessages(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		marker string
	}{
		{"success", Success, "✓"},
		{"warning", Warning, "!"},
		{"error", Error, "✗"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.render("agent spawned")
			if !strings.Contains(out, "agent spawned") {
				t.Errorf("missing message in %q", out)
			}
			if !strings.Contains(out, tt.marker) {
				t.Errorf("missing marker %q in %q", tt.marker, out)
			}
		})
	}
}

func TestErrorBox(t *testing.T) {
	long := strings.Repeat("x", 100)
	out := ErrorBox("", "first line\n"+long)

	if !strings.Contains(out, "Error") {
		t.Error("ErrorBox should default its title")
	}
	if !strings.Contains(out, "first line") {
		t.Error("ErrorBox missing content")
	}
	if strings.Contains(out, long) {
		t.Error("ErrorBox should cut long lines")
	}
}

func TestInfoBox_TitleOnly(t *testing.T) {
	out := InfoBox("Hub", "")
	if !strings.Contains(out, "Hub") {
		t.Errorf("InfoBox missing title: %q", out)
	}
}

func TestTable(t *testing.T) {
	out := Table(
		[]string{"NAME", "STATUS"},
		[][]string{
			{"backend-dev", Status("processing")},
			{"qa", Status("waiting")},
		},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "NAME") || !strings.Contains(lines[0], "STATUS") {
		t.Errorf("bad header: %q", lines[0])
	}

	// Styled cells must not shift the columns.
	first := strings.Index(lines[2], "processing")
	second := strings.Index(lines[3], "waiting")
	if lipgloss.Width(lines[2][:first]) != lipgloss.Width(lines[3][:second]) {
		t.Errorf("status column misaligned:\n%s", out)
	}

	if Table(nil, nil) != "" {
		t.Error("Table without headers should be empty")
	}
}

func TestTable_ShortRow(t *testing.T) {
	out := Table([]string{"A", "B"}, [][]string{{"only"}})
	if !strings.Contains(out, "only") {
		t.Errorf("missing cell: %q", out)
	}
}

func TestAge(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{49 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := Age(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("Age(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if Age(time.Time{}) != "-" {
		t.Error("zero time should render as -")
	}
}

func TestCostAndKeyValue(t *testing.T) {
	if got := Cost(0.12345); got != "$0.1235" && got != "$0.1234" {
		t.Errorf("Cost = %q", got)
	}
	kv := KeyValue("Port", 7433)
	if !strings.Contains(kv, "Port:") || !strings.Contains(kv, "7433") {
		t.Errorf("KeyValue = %q", kv)
	}
}

func TestNextSteps(t *testing.T) {
	out := NextSteps([]Step{
		{Command: "conductor serve", Description: "start the hub"},
		{Command: "conductor status"},
	})
	for _, want := range []string{"Next steps:", "conductor serve", "# start the hub", "conductor status"} {
		if !strings.Contains(out, want) {
			t.Errorf("NextSteps missing %q", want)
		}
	}
}

func TestStatusStyle_KnownStatuses(t *testing.T) {
	for _, s := range []string{"idle", "processing", "waiting", "paused", "complete", "error", "todo", "doing", "code-review", "done", "cancelled", "pending", "in_progress", "failed"} {
		if out := Status(s); !strings.Contains(out, s) {
			t.Errorf("Status(%q) = %q", s, out)
		}
	}
}
