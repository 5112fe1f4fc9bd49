package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hersh/gotris-rooms/internal/netclient"
	"github.com/hersh/gotris-rooms/internal/protocol"
)

const (
	maxLogLines    = 200
	joinTimeout    = 30 * time.Second
	snapshotPeriod = 100 * time.Millisecond
)

// --- Custom tea.Msg types ---

// SnapshotTickMsg triggers sending a state blob to the opponent.
type SnapshotTickMsg time.Time

type matchJoinedMsg struct {
	match *netclient.Match
	err   error
}

// --- Screens ---

type Screen int

const (
	ScreenLobby Screen = iota
	ScreenJoining
	ScreenMatch
	ScreenClosed
)

// --- Model ---

type Model struct {
	screen Screen
	room   string
	name   string
	width  int
	height int

	// Network
	client *netclient.Client

	// Lobby state, rebuilt from room signals
	view  *roomView
	log   []string
	input string

	// Match state
	match     *netclient.Match
	opponent  string
	seed      int64
	port      int
	sent      int
	received  int
	lastState []byte
	streaming bool

	err          error
	disconnected bool
}

// NewModel creates the room client for a player who has already joined.
func NewModel(room, name string, client *netclient.Client, w netclient.Welcome) Model {
	m := Model{
		screen: ScreenLobby,
		room:   room,
		name:   name,
		client: client,
		view:   newRoomView(w),
	}
	m.view.apply(protocol.ParseSignal(protocol.Entered(name)))
	m.logf("joined %s as %s", room, name)
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func snapshotTickCmd() tea.Cmd {
	return tea.Tick(snapshotPeriod, func(t time.Time) tea.Msg {
		return SnapshotTickMsg(t)
	})
}

func joinMatchCmd(c *netclient.Client, port int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		defer cancel()
		m, err := c.JoinMatch(ctx, port)
		return matchJoinedMsg{match: m, err: err}
	}
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case SnapshotTickMsg:
		return m.handleSnapshotTick()

	// Network messages
	case netclient.ServerMsg:
		return m.handleServerMsg(msg)
	case matchJoinedMsg:
		return m.handleMatchJoined(msg)
	case netclient.OpponentMsg:
		m.opponent = msg.Name
		return m, nil
	case netclient.StateMsg:
		m.received++
		m.lastState = msg.Blob
		return m, nil
	case netclient.MatchOverMsg:
		return m.handleMatchOver(msg)
	case netclient.DisconnectedMsg:
		m.disconnected = true
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

// --- Network message handlers ---

func (m Model) handleServerMsg(msg netclient.ServerMsg) (tea.Model, tea.Cmd) {
	sig := msg.Signal
	m.view.apply(sig)

	switch sig.Type {
	case protocol.SignalClosed:
		m.screen = ScreenClosed
		m.closeMatch()
		return m, nil

	case protocol.SignalStarted:
		m.seed = sig.Seed
		m.port = sig.Port
		m.sent, m.received = 0, 0
		m.lastState = nil
		m.opponent = ""
		m.screen = ScreenJoining
		m.logf("match starting on port %d", sig.Port)
		return m, joinMatchCmd(m.client, sig.Port)

	case protocol.SignalReady:
		m.logf("%s toggled ready", sig.Name)
	case protocol.SignalDeparted:
		m.logf("%s left", sig.Name)
	case protocol.SignalWin:
		m.logf("%s won a match", sig.Name)
	default:
		m.logf("%s", sig.Text)
	}
	return m, nil
}

func (m Model) handleMatchJoined(msg matchJoinedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.logf("could not join match: %v", msg.err)
		m.screen = ScreenLobby
		return m, nil
	}
	if m.screen == ScreenClosed {
		msg.match.Close()
		return m, nil
	}
	m.match = msg.match
	m.opponent = msg.match.Opponent()
	m.screen = ScreenMatch
	m.match.Start()
	if m.streaming {
		return m, nil
	}
	m.streaming = true
	return m, snapshotTickCmd()
}

func (m Model) handleMatchOver(msg netclient.MatchOverMsg) (tea.Model, tea.Cmd) {
	m.closeMatch()
	if m.screen == ScreenClosed {
		return m, nil
	}
	m.screen = ScreenLobby
	switch {
	case msg.Winner != "":
		m.logf("%s", RenderResult(msg.Winner == m.name, msg.Winner))
	default:
		m.logf("%s", RenderResult(false, ""))
	}
	return m, nil
}

func (m *Model) closeMatch() {
	if m.match != nil {
		m.match.Close()
		m.match = nil
	}
}

// --- Key handlers ---

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.closeMatch()
		if m.client != nil {
			m.client.Leave()
		}
		return m, tea.Quit
	}

	switch m.screen {
	case ScreenLobby:
		return m.handleLobbyKeys(msg)
	case ScreenMatch:
		return m.handleMatchKeys(msg)
	}
	return m, nil
}

func (m Model) handleLobbyKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab:
		m.report(m.client.Ready())
	case tea.KeyEnter:
		if m.input != "" {
			m.report(m.client.Chat(m.input))
			m.logf("%s: %s", m.name, m.input)
			m.input = ""
		}
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m, nil
}

func (m Model) handleMatchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.match == nil {
		return m, nil
	}
	switch msg.String() {
	case " ":
		m.sendState()
	case "l", "L":
		m.report(m.match.ReportLoss(m.stateBlob()))
	}
	return m, nil
}

// --- Tick handlers ---

func (m Model) handleSnapshotTick() (tea.Model, tea.Cmd) {
	if m.screen != ScreenMatch || m.match == nil {
		m.streaming = false
		return m, nil
	}
	m.sendState()
	return m, snapshotTickCmd()
}

func (m *Model) sendState() {
	if err := m.match.SendState(m.stateBlob()); err != nil {
		m.report(err)
		return
	}
	m.sent++
}

// stateBlob is an opaque board stand-in; the relay never looks inside.
func (m Model) stateBlob() []byte {
	return []byte(fmt.Sprintf("%s:%d:%d", m.name, m.seed, m.sent))
}

func (m *Model) report(err error) {
	if err != nil {
		m.logf("error: %v", err)
	}
}

func (m *Model) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// --- View ---

func (m Model) View() string {
	if m.disconnected {
		return m.renderCentered("Disconnected from server.\nPress Ctrl+C to exit.")
	}

	switch m.screen {
	case ScreenClosed:
		return m.renderCentered(RenderClosed())
	case ScreenJoining:
		return m.renderCentered(fmt.Sprintf("Joining match on port %d...", m.port))
	case ScreenMatch:
		return m.renderMatch()
	}
	return m.renderLobby()
}

func (m Model) renderCentered(content string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(content)
}

func (m Model) renderLobby() string {
	roster := RenderLobby(m.room, m.view.players(), m.name)

	logWidth := max(m.width-lipgloss.Width(roster)-4, 30)
	logHeight := max(m.height-8, 5)
	chat := lipgloss.JoinVertical(lipgloss.Left,
		RenderLog(m.log, logWidth, logHeight),
		RenderInput(m.input, logWidth),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, roster, " ", chat),
		RenderHelp(false),
	)
}

func (m Model) renderMatch() string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		RenderMatch(m.opponent, m.seed, m.port, m.sent, m.received, m.lastState),
		RenderHelp(true),
	)
	return m.renderCentered(content)
}
