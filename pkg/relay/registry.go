package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionInfo describes an open bridge.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	State      string    `json:"state"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Registry tracks open bridges.
type Registry interface {
	Add(ctx context.Context, info SessionInfo) error
	Update(ctx context.Context, id, state string) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]SessionInfo, error)
	Count() int
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]SessionInfo)}
}

// Add implements Registry.
func (r *MemoryRegistry) Add(ctx context.Context, info SessionInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = info
	return nil
}

// Update implements Registry.
func (r *MemoryRegistry) Update(ctx context.Context, id, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.State = state
		r.sessions[id] = info
	}
	return nil
}

func (r *MemoryRegistry) get(id string) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[id]
	return info, ok
}

// Remove implements Registry.
func (r *MemoryRegistry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// List implements Registry. Sessions are ordered by open time.
func (r *MemoryRegistry) List(ctx context.Context) ([]SessionInfo, error) {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, info := range r.sessions {
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Count implements Registry.
func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

const (
	redisSessionPrefix = "voice:session:"
	redisActiveSet     = "voice:active_sessions"
)

// RedisRegistry mirrors a MemoryRegistry into Redis so that several relay
// instances can be observed from one place. Each session is a hash that
// expires after ttl; the active set lists session IDs.
type RedisRegistry struct {
	local  *MemoryRegistry
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis and verifies the connection. url may
// be a redis:// URL or a host:port address.
func NewRedisRegistry(ctx context.Context, url, password string, ttl time.Duration) (*RedisRegistry, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("relay: parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("relay: redis ping: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisRegistry{local: NewMemoryRegistry(), client: client, ttl: ttl}, nil
}

// Add implements Registry.
func (r *RedisRegistry) Add(ctx context.Context, info SessionInfo) error {
	r.local.Add(ctx, info)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.writeSession(ctx, pipe, info)
		return nil
	})
	return err
}

// Update implements Registry. The whole record is rewritten and its TTL
// renewed, so a hash that expired mid-session comes back complete and
// listed. Sessions this instance never added are ignored.
func (r *RedisRegistry) Update(ctx context.Context, id, state string) error {
	r.local.Update(ctx, id, state)

	info, ok := r.local.get(id)
	if !ok {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.writeSession(ctx, pipe, info)
		return nil
	})
	return err
}

func (r *RedisRegistry) writeSession(ctx context.Context, pipe redis.Pipeliner, info SessionInfo) {
	key := redisSessionPrefix + info.ID
	pipe.HSet(ctx, key, map[string]any{
		"remote_addr": info.RemoteAddr,
		"state":       info.State,
		"opened_at":   info.OpenedAt.Format(time.RFC3339),
	})
	pipe.Expire(ctx, key, r.ttl)
	pipe.SAdd(ctx, redisActiveSet, info.ID)
}

// Remove implements Registry.
func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	r.local.Remove(ctx, id)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisSessionPrefix+id)
		pipe.SRem(ctx, redisActiveSet, id)
		return nil
	})
	return err
}

// List implements Registry. It reads every instance's sessions from Redis
// and prunes IDs whose hash has expired.
func (r *RedisRegistry) List(ctx context.Context) ([]SessionInfo, error) {
	ids, err := r.client.SMembers(ctx, redisActiveSet).Result()
	if err != nil {
		return nil, err
	}

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		fields, err := r.client.HGetAll(ctx, redisSessionPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			r.client.SRem(ctx, redisActiveSet, id)
			continue
		}
		opened, _ := time.Parse(time.RFC3339, fields["opened_at"])
		out = append(out, SessionInfo{
			ID:         id,
			RemoteAddr: fields["remote_addr"],
			State:      fields["state"],
			OpenedAt:   opened,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Count returns the number of sessions open on this instance.
func (r *RedisRegistry) Count() int {
	return r.local.Count()
}

// Close closes the Redis client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

var (
	_ Registry = (*MemoryRegistry)(nil)
	_ Registry = (*RedisRegistry)(nil)
)
