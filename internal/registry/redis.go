package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	keyRooms      = "rooms"
	keyRoomPrefix = "rooms:"
	keyAddrPrefix = "rooms:addr:"
)

// RedisStore keeps each room in a hash at rooms:<name>, indexes names in the
// rooms set and maps rooms:addr:<ip> back to the name for player count
// updates.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func roomKey(name string) string { return keyRoomPrefix + name }
func addrKey(addr string) string { return keyAddrPrefix + addr }

func (s *RedisStore) CreateRoom(ctx context.Context, d Descriptor) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(d.Name), map[string]any{
			"name":       d.Name,
			"ip":         d.Address,
			"inner_ip":   d.InnerAddress,
			"admin":      d.Admin,
			"default":    d.Default,
			"min_apm":    d.MinAPM,
			"max_apm":    d.MaxAPM,
			"private":    d.Private,
			"player_num": d.PlayerNum,
		})
		pipe.SAdd(ctx, keyRooms, d.Name)
		pipe.Set(ctx, addrKey(d.Address), d.Name, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create room %q: %w", d.Name, err)
	}
	return nil
}

func (s *RedisStore) RemoveRoom(ctx context.Context, name string) error {
	addr, err := s.rdb.HGet(ctx, roomKey(name), "ip").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("remove room %q: %w", name, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(name))
		pipe.SRem(ctx, keyRooms, name)
		if addr != "" {
			pipe.Del(ctx, addrKey(addr))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove room %q: %w", name, err)
	}
	return nil
}

func (s *RedisStore) UpdatePlayerNum(ctx context.Context, addr string, count int) error {
	name, err := s.rdb.Get(ctx, addrKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("update player num %s: %w", addr, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update player num %s: %w", addr, err)
	}
	if err := s.rdb.HSet(ctx, roomKey(name), "player_num", count).Err(); err != nil {
		return fmt.Errorf("update player num %s: %w", addr, err)
	}
	return nil
}

func (s *RedisStore) GetRooms(ctx context.Context) ([]Descriptor, error) {
	names, err := s.rdb.SMembers(ctx, keyRooms).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	sort.Strings(names)

	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGetAll(ctx, roomKey(name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]Descriptor, 0, len(names))
	for _, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		rooms = append(rooms, descriptorFromHash(h))
	}
	return rooms, nil
}

func descriptorFromHash(h map[string]string) Descriptor {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(h[k])
		return n
	}
	atob := func(k string) bool {
		b, _ := strconv.ParseBool(h[k])
		return b
	}
	return Descriptor{
		Type:         TypeRoom,
		Name:         h["name"],
		Address:      h["ip"],
		InnerAddress: h["inner_ip"],
		Admin:        h["admin"],
		Default:      atob("default"),
		MinAPM:       atoi("min_apm"),
		MaxAPM:       atoi("max_apm"),
		Private:      atob("private"),
		PlayerNum:    atoi("player_num"),
	}
}
