package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/redis/go-redis/v9"

	"github.com/hersh/gotris-rooms/internal/registry"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func main() {
	registryURL := flag.String("registry", "http://localhost:8000", "profile service base URL")
	redisAddr := flag.String("redis", "", "read the listing from this Redis instead of the profile service")
	all := flag.Bool("all", false, "include private rooms")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	var reg registry.Registry
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		reg = registry.NewRedisStore(rdb)
	} else {
		reg = registry.NewHTTPClient(*registryURL, *timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rooms, err := reg.GetRooms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list rooms: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(renderRooms(rooms, *all))
}

func renderRooms(rooms []registry.Descriptor, all bool) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "ADDRESS", "ADMIN", "PLAYERS", "APM", "FLAGS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	shown := 0
	for _, d := range rooms {
		if d.Private && !all {
			continue
		}
		flags := ""
		if d.Default {
			flags += "default "
		}
		if d.Private {
			flags += "private"
		}
		t.Row(
			d.Name,
			d.Address,
			d.Admin,
			strconv.Itoa(d.PlayerNum),
			fmt.Sprintf("%d-%d", d.MinAPM, d.MaxAPM),
			flags,
		)
		shown++
	}
	if shown == 0 {
		return "No rooms are open."
	}
	return t.Render()
}
