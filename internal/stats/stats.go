// Package stats records finished matches against each player's profile.
package stats

import (
	"context"
	"errors"
	"time"
)

// Reporter records one finished match for one participant.
type Reporter interface {
	AddGame(ctx context.Context, username string, won bool) error
}

// GameRecorded is the event form of one AddGame call.
type GameRecorded struct {
	Username string    `json:"username"`
	Won      bool      `json:"won"`
	At       time.Time `json:"at"`
}

// Multi fans each call out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) AddGame(ctx context.Context, username string, won bool) error {
	var errs []error
	for _, r := range m {
		if err := r.AddGame(ctx, username, won); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every game.
type Nop struct{}

func (Nop) AddGame(context.Context, string, bool) error { return nil }
