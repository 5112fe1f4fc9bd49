package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/user"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hersh/gotris-rooms/internal/netclient"
	"github.com/hersh/gotris-rooms/internal/transport"
	"github.com/hersh/gotris-rooms/internal/tui"
)

func main() {
	serverAddr := flag.String("server", "localhost:44444", "room address (host:port)")
	network := flag.String("transport", transport.NetworkTCP, "tcp or websocket")
	playerName := flag.String("name", "", "Player name (defaults to OS username)")
	flag.Parse()

	name := *playerName
	if name == "" {
		if u, err := user.Current(); err == nil && u.Username != "" {
			name = u.Username
		} else {
			name = "Player"
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to the room
	client, err := netclient.Dial(ctx, *network, *serverAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to room at %s: %v\n", *serverAddr, err)
		fmt.Fprintf(os.Stderr, "Make sure the server is running (go run ./cmd/server)\n")
		os.Exit(1)
	}
	defer client.Close()

	welcome, err := client.Join(ctx, name)
	if errors.Is(err, netclient.ErrNameTaken) {
		fmt.Fprintf(os.Stderr, "The name %q is already in this room, pick another with -name\n", name)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to join room: %v\n", err)
		os.Exit(1)
	}

	model := tui.NewModel(*serverAddr, name, client, welcome)

	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
	)

	// Wire the program into the client so readPump can send tea.Msgs
	client.SetProgram(p)
	client.Start()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
