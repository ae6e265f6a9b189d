package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Store fetches serialized sessions by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ParseStoreAddress accepts "host:port" or a redis:// URL.
func ParseStoreAddress(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStoreAddress, err)
		}
		return opts, nil
	}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStoreAddress, err)
	}
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: empty host in %q", ErrInvalidStoreAddress, raw)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, fmt.Errorf("%w: port %q is not a number", ErrInvalidStoreAddress, port)
	}
	return &redis.Options{Addr: net.JoinHostPort(strings.TrimSpace(host), port)}, nil
}

// RedisStore reads Beaker sessions from redis. Each lookup checks out its own
// connection and returns it when done.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(address string) (*RedisStore, error) {
	opts, err := ParseStoreAddress(address)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	conn := s.client.Conn()
	defer conn.Close()

	val, err := conn.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return s.client.Close() }
