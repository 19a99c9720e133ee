// Package monitor is the live terminal dashboard of a running hub.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/workitem"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFD700")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	agentIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	agentBusyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00"))

	agentErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	agentDoneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// feedSize bounds the recent-events panel.
const feedSize = 12

// Source is what the dashboard reads. *hub.Client satisfies it.
type Source interface {
	Status(ctx context.Context) (*hub.StatusResponse, error)
	Items(ctx context.Context, status workitem.Status) ([]*workitem.Item, error)
	Tasks(ctx context.Context) ([]orchestrator.Task, error)
}

type tickMsg time.Time

type dataMsg struct {
	status *hub.StatusResponse
	items  []*workitem.Item
	tasks  []orchestrator.Task
	err    error
}

type eventMsg hub.RawEvent

// Model is the bubbletea model of the dashboard.
type Model struct {
	source    Source
	spinner   spinner.Model
	status    *hub.StatusResponse
	items     []*workitem.Item
	tasks     []orchestrator.Task
	feed      []string
	width     int
	height    int
	err       error
	connected bool
}

// NewModel creates a dashboard over source.
func NewModel(source Source) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))

	return Model{
		source:  source,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetchData,
		m.tick(),
	)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchData() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := m.source.Status(ctx)
	if err != nil {
		return dataMsg{err: err}
	}
	items, _ := m.source.Items(ctx, "")
	tasks, _ := m.source.Tasks(ctx)

	return dataMsg{status: status, items: items, tasks: tasks}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.fetchData, m.tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
			m.connected = false
		} else {
			m.err = nil
			m.connected = true
			m.status = msg.status
			m.items = msg.items
			m.tasks = msg.tasks
		}

	case eventMsg:
		line := DescribeEvent(hub.RawEvent(msg))
		if line == "" {
			return m, nil
		}
		m.feed = append(m.feed, line)
		if len(m.feed) > feedSize {
			m.feed = m.feed[len(m.feed)-feedSize:]
		}
		return m, m.fetchData

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Conductor Monitor"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(agentErrorStyle.Render(fmt.Sprintf("Connection error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Press 'r' to retry, 'q' to quit"))
		return b.String()
	}

	if !m.connected || m.status == nil {
		b.WriteString(m.spinner.View())
		b.WriteString(" Connecting to hub...")
		return b.String()
	}

	b.WriteString(m.renderSummary())
	b.WriteString("\n")
	b.WriteString(m.renderAgents())
	b.WriteString("\n")
	b.WriteString(m.renderBoard())
	b.WriteString("\n")
	b.WriteString(m.renderFeed())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press 'r' to refresh, 'q' to quit"))

	return b.String()
}

func (m Model) renderSummary() string {
	st := m.status
	queue := fmt.Sprintf("%d queued", st.QueueDepth)
	if st.Draining {
		queue = m.spinner.View() + " working, " + queue
	}
	return fmt.Sprintf("%s %s   %s $%.4f   %s %d\n",
		headerStyle.Render("ORCHESTRATOR"), queue,
		headerStyle.Render("COST"), st.TotalCostUSD,
		headerStyle.Render("UNREAD"), st.Pool.UnreadMail)
}

func (m Model) renderAgents() string {
	var b strings.Builder

	pool := m.status.Pool
	b.WriteString(headerStyle.Render("AGENTS"))
	b.WriteString(fmt.Sprintf(" (%d/%d live", len(pool.Agents), pool.MaxConcurrent))
	if len(pool.Pending) > 0 {
		b.WriteString(fmt.Sprintf(", %d waiting", len(pool.Pending)))
	}
	b.WriteString(")\n")

	if len(pool.Agents) == 0 && len(pool.Pending) == 0 {
		b.WriteString(dimStyle.Render("  No agents running\n"))
		return b.String()
	}

	for _, a := range pool.Agents {
		line := fmt.Sprintf("  %s %s", statusIcon(a.Status), statusStyle(a.Status).Render(a.Name))
		if a.Role != "" {
			line += dimStyle.Render(fmt.Sprintf(" [%s]", a.Role))
		}
		if a.WorkItemID != "" {
			line += dimStyle.Render(" " + a.WorkItemID)
		}
		line += dimStyle.Render(fmt.Sprintf(" $%.4f %s", a.CostUSD, truncate(a.Focus, 40)))
		b.WriteString(line + "\n")
	}
	for _, name := range pool.Pending {
		b.WriteString(fmt.Sprintf("  %s %s\n", statusIcon(agent.StatusWaiting), dimStyle.Render(name+" (waiting)")))
	}
	return b.String()
}

func (m Model) renderBoard() string {
	counts := make(map[workitem.Status]int)
	for _, it := range m.items {
		counts[it.Status]++
	}

	parts := make([]string, 0, len(workitem.Statuses))
	for _, st := range workitem.Statuses {
		parts = append(parts, fmt.Sprintf("%s %d", st, counts[st]))
	}
	return headerStyle.Render("BOARD") + " " + strings.Join(parts, "  ") + "\n"
}

func (m Model) renderFeed() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("RECENT"))
	b.WriteString("\n")
	if len(m.feed) == 0 {
		b.WriteString(dimStyle.Render("  No events yet\n"))
		return b.String()
	}
	for _, line := range m.feed {
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

// eventPayload is the union of the event fields the feed shows.
type eventPayload struct {
	Agent      string          `json:"agent"`
	Status     string          `json:"status"`
	Previous   string          `json:"previous"`
	Error      string          `json:"error"`
	Detail     string          `json:"detail"`
	Success    bool            `json:"success"`
	WorkItemID string          `json:"work_item_id"`
	Task       *taskPayload    `json:"task"`
	Message    *messagePayload `json:"message"`
}

type taskPayload struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// DescribeEvent renders one stream event as a feed line. Noisy events
// (output chunks, pool snapshots) return "".
func DescribeEvent(ev hub.RawEvent) string {
	var p eventPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return ""
		}
	}

	at := ev.Timestamp.Local().Format("15:04:05")
	var text string
	switch ev.Type {
	case "agent.spawned":
		text = "spawned " + p.Agent
	case "agent.waiting":
		text = p.Agent + " is waiting"
	case "agent.status":
		text = fmt.Sprintf("%s %s -> %s", p.Agent, p.Previous, p.Status)
	case "agent.destroyed":
		text = "destroyed " + p.Agent
	case "agent.error":
		text = agentErrorStyle.Render(fmt.Sprintf("%s: %s", p.Agent, truncate(p.Error, 60)))
	case "orchestrator.task":
		if p.Task == nil {
			return ""
		}
		text = fmt.Sprintf("task %s: %s", p.Task.Status, truncate(p.Task.Text, 50))
	case "orchestrator.spawn":
		if p.Success {
			text = "orchestrator spawned " + p.Agent
		} else {
			text = agentErrorStyle.Render(fmt.Sprintf("spawn of %s failed: %s", p.Agent, truncate(p.Detail, 50)))
		}
	case "orchestrator.rollback":
		text = agentBusyStyle.Render(p.Detail)
	case "mail.received":
		if p.Message == nil {
			return ""
		}
		text = fmt.Sprintf("mail %s -> %s: %s", p.Message.From, p.Message.To, truncate(p.Message.Subject, 40))
	default:
		return ""
	}
	return dimStyle.Render(at) + " " + text
}

func statusIcon(status agent.Status) string {
	switch status {
	case agent.StatusIdle:
		return "●"
	case agent.StatusProcessing, agent.StatusInitializing:
		return "◐"
	case agent.StatusPaused:
		return "‖"
	case agent.StatusWaiting:
		return "…"
	case agent.StatusError:
		return "✗"
	case agent.StatusComplete:
		return "✓"
	default:
		return "?"
	}
}

func statusStyle(status agent.Status) lipgloss.Style {
	switch status {
	case agent.StatusIdle:
		return agentIdleStyle
	case agent.StatusProcessing, agent.StatusInitializing, agent.StatusPaused:
		return agentBusyStyle
	case agent.StatusError:
		return agentErrorStyle
	case agent.StatusComplete:
		return agentDoneStyle
	default:
		return dimStyle
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Run shows the dashboard until the user quits. Events arrive over the hub
// websocket; the status panels also refresh on a timer.
func Run(ctx context.Context, client *hub.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(client), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		_ = client.Watch(ctx, func(ev hub.RawEvent) error {
			p.Send(eventMsg(ev))
			return nil
		})
	}()

	_, err := p.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}
