package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// l2Redis wraps a distributed Redis client as the discovery cache's L2 tier.
// Every call is best-effort: redis errors are swallowed into a miss, with
// the caller responsible for counting them (§4.2).
type l2Redis struct {
	client *redis.Client
}

func newL2Redis(client *redis.Client) *l2Redis {
	return &l2Redis{client: client}
}

func (l *l2Redis) get(ctx context.Context, key string) ([]byte, error) {
	v, err := l.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return v, err
}

func (l *l2Redis) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return l.client.Set(ctx, key, value, ttl).Err()
}

func (l *l2Redis) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return l.client.Del(ctx, keys...).Err()
}

// scanMatching returns every full key (prefix included) whose name, after
// stripping the "disc:" prefix, matches a glob pattern, using SCAN rather
// than KEYS to avoid blocking the server.
func (l *l2Redis) scanMatching(ctx context.Context, pattern string) ([]string, error) {
	var matched []string
	iter := l.client.Scan(ctx, 0, "disc:*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		stripped := key
		if len(key) > 5 && key[:5] == "disc:" {
			stripped = key[5:]
		}
		if globMatch(pattern, stripped) {
			matched = append(matched, key)
		}
	}
	return matched, iter.Err()
}

func (l *l2Redis) ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
