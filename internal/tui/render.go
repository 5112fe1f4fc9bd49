package tui

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hersh/gotris-rooms/internal/player"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("15")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	readyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	notReadyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	inMatchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	gameOverStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	winnerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))
)

func RenderLobby(room string, players []player.Player, currentPlayer string) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("=== "+room+" ===") + "\n\n")

	for _, p := range players {
		status := notReadyStyle.Render("[ ]")
		switch {
		case p.InMatch:
			status = inMatchStyle.Render("[⚔]")
		case p.Ready:
			status = readyStyle.Render("[✓]")
		}

		marker := ""
		if p.Name == currentPlayer {
			marker = " <"
		}
		fmt.Fprintf(&sb, "%s %-12s %3d%s\n", status, p.Name, p.Wins, marker)
	}
	if len(players) == 0 {
		sb.WriteString(dimStyle.Render("(empty)") + "\n")
	}

	return panelStyle.Render(strings.TrimRight(sb.String(), "\n"))
}

// RenderLog shows the last height lines of the room log.
func RenderLog(lines []string, width, height int) string {
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	body := strings.Join(lines, "\n")
	if body == "" {
		body = dimStyle.Render("no messages yet")
	}
	return panelStyle.Width(width).Render(body)
}

func RenderInput(input string, width int) string {
	return panelStyle.Width(width).Render("> " + input + "█")
}

func RenderMatch(opponent string, seed int64, port, sent, received int, last []byte) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("MATCH") + "\n\n")
	if opponent == "" {
		opponent = dimStyle.Render("waiting...")
	}
	sb.WriteString(infoStyle.Render("Opponent: "+opponent) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Seed: %d", seed)) + "\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Port: %d", port)) + "\n\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("Sent: %d  Received: %d", sent, received)) + "\n")
	sb.WriteString(infoStyle.Render("Last state: "+preview(last, 16)) + "\n")

	return panelStyle.Render(sb.String())
}

func RenderResult(won bool, winner string) string {
	if won {
		return winnerStyle.Render("WINNER!")
	}
	if winner == "" {
		return gameOverStyle.Render("MATCH ABORTED")
	}
	return gameOverStyle.Render("GAME OVER - " + winner + " wins")
}

func RenderClosed() string {
	return gameOverStyle.Render("The room was closed.") + "\n\n" + infoStyle.Render("Press Ctrl+C to exit.")
}

func RenderHelp(inMatch bool) string {
	if inMatch {
		return infoStyle.Render("SPACE send state · L give up · Ctrl+C quit")
	}
	return infoStyle.Render("TAB toggle ready · ENTER send chat · Ctrl+C leave")
}

func preview(blob []byte, n int) string {
	if len(blob) == 0 {
		return "-"
	}
	if len(blob) <= n {
		return hex.EncodeToString(blob)
	}
	return hex.EncodeToString(blob[:n]) + fmt.Sprintf("… (%d bytes)", len(blob))
}
