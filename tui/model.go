package tui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/admin-session/session"
)

// tickMsg is fired every second to update the refresh countdown.
type tickMsg time.Time

// state represents the current phase of the command.
type state int

const (
	stateInit       state = iota
	stateRestoring        // restoring stored session
	stateRefreshing       // refreshing access token
	stateWorking          // talking to the API
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// maxStatusLines bounds the log so long watch sessions stay on screen.
const maxStatusLines = 12

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the admin CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	session     session.State
	nextRefresh time.Time
	remaining   time.Duration
	counts      map[string]int

	tokenExpiry time.Time
	errMsg      string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleCountBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
		counts:  make(map[string]int),
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.nextRefresh), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgRestoring:
		m.state = stateRestoring
		return m, nil

	case MsgRestored:
		m.session = msg.State
		m.state = stateWorking
		if msg.State == session.StateAuthenticated {
			m.addStatus(statusOK, "Session restored")
		} else {
			m.addStatus(statusInfo, "Not logged in")
		}
		return m, nil

	case MsgStateChanged:
		m.session = msg.State
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateWorking
		m.addStatus(statusOK, "Token refreshed successfully")
		return m, nil

	case MsgRefreshFailed:
		m.state = stateWorking
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRequestRejected:
		m.addStatus(statusWarn, fmt.Sprintf("%s %s rejected, refreshing...", msg.Method, msg.Path))
		return m, nil

	case MsgRequestReplayed:
		m.addStatus(statusOK, fmt.Sprintf("%s %s retried with new token", msg.Method, msg.Path))
		return m, nil

	case MsgLoggedIn:
		m.addStatus(statusOK, "Logged in as "+msg.Email)
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusOK, "Logged out")
		return m, nil

	case MsgSessionExpired:
		m.addStatus(statusWarn, "You have been logged out, run 'login' again")
		return m, nil

	case MsgListing:
		m.state = stateWorking
		return m, nil

	case MsgListed:
		m.counts[msg.Resource] = msg.Count
		m.addStatus(statusOK, fmt.Sprintf("%s: %d", msg.Resource, msg.Count))
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgNextRefresh:
		restart := m.remaining <= 0
		m.nextRefresh = msg.At
		m.remaining = max(time.Until(msg.At), 0)
		if restart && m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case MsgDone:
		m.session = msg.State
		m.tokenExpiry = msg.TokenExpiry
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while restoring, refreshing and calling the API.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  AuthGate Admin  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateRestoring:
		b.WriteString(m.spinner.View())
		b.WriteString(" Restoring session...\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateWorking:
		b.WriteString(styleBold.Render("Session: "))
		b.WriteString(m.session.String() + "\n")
		if m.remaining > 0 {
			b.WriteString(styleDim.Render("Next refresh in " + formatDuration(m.remaining)))
			b.WriteString("\n")
		}
		if len(m.counts) > 0 {
			b.WriteString("\n")
			b.WriteString(styleCountBox.Render(m.viewCounts()))
			b.WriteString("\n")
		}
		b.WriteString(m.spinner.View())
		b.WriteString(" Working...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewCounts renders the latest resource counts, sorted by name.
func (m Model) viewCounts() string {
	var lines []string
	for _, r := range sortedKeys(m.counts) {
		lines = append(lines, fmt.Sprintf("%-10s %d", r, m.counts[r]))
	}
	return strings.Join(lines, "\n")
}

// viewSuccess is shown after the command finished.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Done"))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Session:    "))
	b.WriteString(m.session.String() + "\n")

	if !m.tokenExpiry.IsZero() {
		b.WriteString(styleBold.Render("Expires In: "))
		b.WriteString(formatDuration(time.Until(m.tokenExpiry)) + "\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log, dropping the oldest lines.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
	if n := len(m.statusLines); n > maxStatusLines {
		m.statusLines = m.statusLines[n-maxStatusLines:]
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
