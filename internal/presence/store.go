package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ttlConn caps how long a connection record can outlive its process. Records
// are removed on clean disconnect; the TTL only covers crashes, where the
// in-memory matches are gone anyway.
const ttlConn = 24 * time.Hour

// Entry is stored as JSON under conn:<id>.
type Entry struct {
	Identity    string    `json:"identity"`
	Room        string    `json:"room,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Store tracks live connections in Redis. It exists as an injectable service
// so the operational surface (and, later, sibling processes) can observe who
// is connected without reaching into the gateway's internals.
type Store struct {
	rdb *redis.Client
}

func NewStore(redisURL string) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for presence store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyConn(id string) string { return "presence:conn:" + strings.TrimSpace(id) }
func (s *Store) keyIndex() string         { return "presence:conns" }

// Track records a live connection. Re-tracking the same connection (e.g. on
// room join after connect) overwrites its entry.
func (s *Store) Track(ctx context.Context, connID string, e Entry) error {
	if s == nil || s.rdb == nil || strings.TrimSpace(connID) == "" {
		return nil
	}
	if e.ConnectedAt.IsZero() {
		e.ConnectedAt = time.Now()
	}
	raw, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keyConn(connID), raw, ttlConn).Err(); err != nil {
		return err
	}
	if err := s.rdb.SAdd(ctx, s.keyIndex(), connID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyIndex(), ttlConn).Err()
}

// Untrack removes a connection record.
func (s *Store) Untrack(ctx context.Context, connID string) error {
	if s == nil || s.rdb == nil || strings.TrimSpace(connID) == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, s.keyConn(connID)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyIndex(), connID).Err()
}

// Count returns the number of live connections, pruning index entries whose
// record has expired.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.rdb == nil {
		return 0, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.keyIndex()).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		exists, err := s.rdb.Exists(ctx, s.keyConn(id)).Result()
		if err != nil {
			return 0, err
		}
		if exists == 0 {
			_ = s.rdb.SRem(ctx, s.keyIndex(), id).Err()
			continue
		}
		n++
	}
	return n, nil
}

// Get loads one connection entry; nil when absent.
func (s *Store) Get(ctx context.Context, connID string) (*Entry, error) {
	if s == nil || s.rdb == nil {
		return nil, nil
	}
	raw, err := s.rdb.Get(ctx, s.keyConn(connID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
