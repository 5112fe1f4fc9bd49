package stats

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PlayerStats is one row of player_stats.
type PlayerStats struct {
	Username string
	Games    int
	Wins     int
}

// PostgresStore keeps per-player game and win counters.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const upsertGame = `
INSERT INTO player_stats (username, games, wins)
VALUES ($1, 1, CASE WHEN $2 THEN 1 ELSE 0 END)
ON CONFLICT (username) DO UPDATE SET
    games      = player_stats.games + 1,
    wins       = player_stats.wins + EXCLUDED.wins,
    updated_at = now()`

func (s *PostgresStore) AddGame(ctx context.Context, username string, won bool) error {
	if _, err := s.pool.Exec(ctx, upsertGame, username, won); err != nil {
		return fmt.Errorf("add game for %s: %w", username, err)
	}
	return nil
}

// Stats returns a player's counters; a player with no games has zero counts.
func (s *PostgresStore) Stats(ctx context.Context, username string) (PlayerStats, error) {
	st := PlayerStats{Username: username}
	err := s.pool.QueryRow(ctx,
		`SELECT games, wins FROM player_stats WHERE username = $1`, username,
	).Scan(&st.Games, &st.Wins)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return PlayerStats{}, fmt.Errorf("stats for %s: %w", username, err)
	}
	return st, nil
}

// --- Migrations ---

// Migrator applies the embedded player_stats schema.
type Migrator struct {
	migrate *migrate.Migrate
	log     *zap.SugaredLogger
}

func NewMigrator(databaseURL string, log *zap.SugaredLogger) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return &Migrator{migrate: m, log: log}, nil
}

func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		m.log.Warnw("schema is dirty, forcing version", "version", version)
		if err := m.migrate.Force(int(version)); err != nil {
			return fmt.Errorf("force version %d: %w", version, err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Debugw("schema up to date", "version", version)
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	newVersion, _, _ := m.migrate.Version()
	m.log.Infow("schema migrated", "version", newVersion)
	return nil
}

func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}
