// Package registry publishes rooms to the profile service so clients can
// list and join them.
package registry

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("registry: room not found")

// Descriptor is a room's public listing.
type Descriptor struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Address      string `json:"ip"`
	InnerAddress string `json:"inner_ip,omitempty"`
	Admin        string `json:"admin,omitempty"`
	Default      bool   `json:"default"`
	MinAPM       int    `json:"min_apm"`
	MaxAPM       int    `json:"max_apm"`
	Private      bool   `json:"private"`
	PlayerNum    int    `json:"player_num"`
}

const TypeRoom = "room"

// Registry is the room listing store. Callers treat every method as best
// effort.
type Registry interface {
	CreateRoom(ctx context.Context, d Descriptor) error
	RemoveRoom(ctx context.Context, name string) error
	UpdatePlayerNum(ctx context.Context, addr string, count int) error
	GetRooms(ctx context.Context) ([]Descriptor, error)
}

// Nop accepts every call and stores nothing.
type Nop struct {
	Log *zap.SugaredLogger
}

func (n Nop) CreateRoom(ctx context.Context, d Descriptor) error {
	n.debug("create room", "name", d.Name, "ip", d.Address)
	return nil
}

func (n Nop) RemoveRoom(ctx context.Context, name string) error {
	n.debug("remove room", "name", name)
	return nil
}

func (n Nop) UpdatePlayerNum(ctx context.Context, addr string, count int) error {
	n.debug("update player num", "ip", addr, "player_num", count)
	return nil
}

func (n Nop) GetRooms(ctx context.Context) ([]Descriptor, error) {
	return nil, nil
}

func (n Nop) debug(msg string, kv ...any) {
	if n.Log != nil {
		n.Log.Debugw("registry disabled: "+msg, kv...)
	}
}
