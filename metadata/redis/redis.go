// Package redis is a metadata.Store backed by Redis, letting several host
// processes share one fetched copy of each provider's metadata.
//
// Entries are stored as JSON under KeyPrefix+endpoint with a TTL covering
// the freshness window plus the stale grace period. Writes are guarded by a
// small Lua script so an older fetch never overwrites a newer one.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/oauth2-sasl-go/metadata"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: OAUTH2_CACHE_PREFIX
	KeyPrefix string `env:"OAUTH2_CACHE_PREFIX,default=oauth2:metadata:"`
}

type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ metadata.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "oauth2:metadata:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(ctx, cfg)
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(endpoint string) string { return s.keyPrefix + endpoint }

func (s *Store) Get(ctx context.Context, endpoint string) (*metadata.Entry, error) {
	b, err := s.client.Get(ctx, s.key(endpoint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e metadata.Entry
	if err := json.Unmarshal(b, &e); err != nil {
		// A corrupt value is treated as a miss; the next fetch overwrites it.
		return nil, nil
	}
	return &e, nil
}

// putIfNewer stores ARGV[1] with a PX of ARGV[2] unless the current value
// has a fetched_at_us greater than ARGV[3].
var putIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
  local ok, obj = pcall(cjson.decode, cur)
  if ok and obj["fetched_at_us"] and tonumber(obj["fetched_at_us"]) > tonumber(ARGV[3]) then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

type wireEntry struct {
	metadata.Entry
	FetchedAtUS int64 `json:"fetched_at_us"`
}

func (s *Store) Put(ctx context.Context, e *metadata.Entry) error {
	b, err := json.Marshal(wireEntry{Entry: *e, FetchedAtUS: e.FetchedAt.UnixMicro()})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	ttl := e.Retention()
	if err := putIfNewer.Run(ctx, s.client, []string{s.key(e.Endpoint)}, b, ttl.Milliseconds(), e.FetchedAt.UnixMicro()).Err(); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}
