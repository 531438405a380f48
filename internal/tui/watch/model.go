package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/codespace-tools/warden/internal/events"
	"github.com/codespace-tools/warden/internal/outcome"
)

const maxLogLines = 200

// HealthState tracks daemon health from /healthz polling.
type HealthState struct {
	Status      string
	Uptime      time.Duration
	LastCycleID string
	LastCycleAt string
	Connected   bool
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health   HealthState
	logLines []string
	log      viewport.Model
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	m := &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
	m.log.Width = 80
	m.log.Height = 20
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.log.Width = msg.Width - 6
		m.log.Height = msg.Height - 9
		m.refreshLog()

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.appendEvent(e)
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Uptime = time.Duration(msg.UptimeSeconds) * time.Second
		m.health.LastCycleID = msg.LastCycleID
		m.health.LastCycleAt = msg.LastCycleAt
		m.health.Connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m *Model) appendEvent(e events.Event) {
	line := m.renderEvent(e)
	if line == "" {
		return
	}
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *Model) refreshLog() {
	m.log.SetContent(strings.Join(m.logLines, "\n"))
	m.log.GotoBottom()
}

// renderEvent formats one hub event as a log line. Outcome events get the
// detailed treatment; cycle markers render dim.
func (m *Model) renderEvent(e events.Event) string {
	ts := m.theme.Dim.Render(e.At.Format("15:04:05"))

	if strings.HasPrefix(e.Type, "outcome.") {
		var o outcome.Outcome
		if err := json.Unmarshal(e.Data, &o); err != nil {
			return fmt.Sprintf("%s %s", ts, e.Type)
		}
		switch o.Type {
		case outcome.TypeStopped:
			reason := o.Reason
			if reason == "" {
				reason = "-"
			}
			return fmt.Sprintf("%s %s %s %s (%s)", ts,
				m.theme.Stopped.Render("STOPPED"), o.WorkspaceID, m.theme.Dim.Render(o.Repo), reason)
		case outcome.TypeStopFailed:
			return fmt.Sprintf("%s %s %s: %s", ts,
				m.theme.StopFailed.Render("STOP FAILED"), o.WorkspaceID, o.Detail)
		case outcome.TypeAuthError:
			return fmt.Sprintf("%s %s %s", ts,
				m.theme.StopFailed.Render("AUTH ERROR"), o.Detail)
		case outcome.TypeSkipped:
			return fmt.Sprintf("%s %s %s", ts, m.theme.Skipped.Render("skipped"), o.Detail)
		case outcome.TypeUnavailable:
			return fmt.Sprintf("%s %s %s", ts,
				m.theme.StopFailed.Render("UNAVAILABLE"), o.Detail)
		}
	}

	if e.Type == "engine.cycle_completed" {
		return fmt.Sprintf("%s %s", ts, m.theme.Dim.Render("cycle completed"))
	}
	return ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to warden..."
	}

	header := m.renderHeader()
	body := m.theme.Border.Width(m.width - 6).Render(m.log.View())

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Scroll")

	parts := []string{header, body}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	innerWidth := m.width - 6

	statusText := m.theme.StatusOK.Render("HEALTHY")
	if !m.health.Connected {
		statusText = m.theme.StatusFailed.Render("CONNECTING")
	} else if m.health.Status != "ok" && m.health.Status != "" {
		statusText = m.theme.StatusFailed.Render("DEGRADED")
	}

	lastCycle := "never"
	if m.health.LastCycleAt != "" {
		lastCycle = m.health.LastCycleAt
	}

	clock := m.theme.Dim.Render(time.Now().Format("15:04:05"))
	title := m.theme.Title.Render("WARDEN WATCH")
	pad := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 2
	if pad < 1 {
		pad = 1
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		title+strings.Repeat(" ", pad)+clock,
		fmt.Sprintf(" %s  ⏱ %s  last cycle: %s", statusText, formatDuration(m.health.Uptime), lastCycle),
	)
	return m.theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
