package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-app-spawn/internal/spawn"
	"github.com/randomizedcoder/go-app-spawn/internal/stats"
)

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// StatsSource provides the dashboard's data. All methods must be safe to
// call from the render loop without blocking on an in-flight spawn.
type StatsSource interface {
	SpawnStats() stats.Snapshot
	HelperState() spawn.State
	HelperPID() int
	HelperRestarts() int64
}

// Config holds TUI configuration.
type Config struct {
	AppRoot     string
	Count       int
	MetricsAddr string
	StatsSource StatsSource
}

// Model represents the TUI state.
type Model struct {
	appRoot     string
	count       int
	metricsAddr string

	source StatsSource

	snapshot       stats.Snapshot
	helperState    spawn.State
	helperPID      int
	helperRestarts int64

	startTime  time.Time
	lastUpdate time.Time

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		appRoot:     cfg.AppRoot,
		count:       cfg.Count,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.StatsSource,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.snapshot = m.source.SpawnStats()
			m.helperState = m.source.HelperState()
			m.helperPID = m.source.HelperPID()
			m.helperRestarts = m.source.HelperRestarts()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.render()
}

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Progress returns the completed fraction of requested spawns (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.count == 0 {
		return 0
	}
	p := float64(m.snapshot.Total()) / float64(m.count)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// FailureRate returns the fraction of spawn requests that failed.
func (m Model) FailureRate() float64 {
	total := m.snapshot.Total()
	if total == 0 {
		return 0
	}
	return float64(m.snapshot.Failed) / float64(total)
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
