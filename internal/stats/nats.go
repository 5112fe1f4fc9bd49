package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "gotris.games.recorded"

// NATSPublisher announces every recorded game on a subject so other
// services can keep their own counters.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	now     func() time.Time
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: nc, subject: subject, now: time.Now}
}

func (p *NATSPublisher) AddGame(ctx context.Context, username string, won bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(GameRecorded{Username: username, Won: won, At: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode game for %s: %w", username, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish game for %s: %w", username, err)
	}
	return nil
}
