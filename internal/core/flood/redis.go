package flood

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisScanCount = 200

// RedisBackend keeps one sorted set per (event, identifier). Scores are
// registration timestamps; members encode "timestamp:expiration:uuid" so
// garbage collection can honor per-event windows.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	clock  Clock
}

// NewRedisBackend builds a redis backend. prefix namespaces every key.
func NewRedisBackend(client redis.UniversalClient, prefix string, clock Clock) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("flood: redis client is required")
	}
	if clock == nil {
		clock = systemClock
	}
	return &RedisBackend{client: client, prefix: prefix, clock: clock}, nil
}

// key length-prefixes the event name so names containing ':' stay unambiguous.
func (b *RedisBackend) key(name, identifier string) string {
	return b.namePrefix(name) + identifier
}

func (b *RedisBackend) namePrefix(name string) string {
	return b.prefix + "flood:" + strconv.Itoa(len(name)) + ":" + name + ":"
}

func (b *RedisBackend) Register(ctx context.Context, name string, window time.Duration, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	seconds := windowSeconds(window)
	now := b.clock().Unix()
	key := b.key(name, identifier)
	member := fmt.Sprintf("%d:%d:%s", now, now+seconds, uuid.NewString())

	if err := b.client.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member}).Err(); err != nil {
		return fmt.Errorf("flood: register: %w", err)
	}

	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("flood: register ttl: %w", err)
	}
	keep := time.Duration(seconds) * time.Second
	if ttl < keep {
		if err := b.client.Expire(ctx, key, keep).Err(); err != nil {
			return fmt.Errorf("flood: register expire: %w", err)
		}
	}
	return nil
}

func (b *RedisBackend) IsAllowed(ctx context.Context, name string, threshold int, window time.Duration, identifier string) (bool, error) {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return false, err
	}

	after := b.clock().Unix() - windowSeconds(window)
	count, err := b.client.ZCount(ctx, b.key(name, identifier), "("+strconv.FormatInt(after, 10), "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("flood: count: %w", err)
	}
	return count < int64(threshold), nil
}

func (b *RedisBackend) Clear(ctx context.Context, name string, identifier string) error {
	identifier, err := resolveIdentifier(ctx, identifier)
	if err != nil {
		return err
	}

	if err := b.client.Del(ctx, b.key(name, identifier)).Err(); err != nil {
		return fmt.Errorf("flood: clear: %w", err)
	}
	return nil
}

func (b *RedisBackend) ClearByPrefix(ctx context.Context, name string, prefix string) error {
	pattern := escapeGlob(b.namePrefix(name)+prefix) + "*"

	keys, err := b.scan(ctx, pattern)
	if err != nil {
		return fmt.Errorf("flood: clear by prefix: %w", err)
	}
	for start := 0; start < len(keys); start += redisScanCount {
		end := min(start+redisScanCount, len(keys))
		if err := b.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("flood: clear by prefix: %w", err)
		}
	}
	return nil
}

func (b *RedisBackend) GarbageCollection(ctx context.Context) (int64, error) {
	now := b.clock().Unix()

	keys, err := b.scan(ctx, escapeGlob(b.prefix+"flood:")+"*")
	if err != nil {
		return 0, fmt.Errorf("flood: gc: %w", err)
	}

	var removed int64
	for _, key := range keys {
		members, err := b.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("flood: gc: %w", err)
		}

		expired := make([]any, 0, len(members))
		for _, member := range members {
			if expiration, ok := memberExpiration(member); ok && expiration < now {
				expired = append(expired, member)
			}
		}
		if len(expired) == 0 {
			continue
		}

		n, err := b.client.ZRem(ctx, key, expired...).Result()
		if err != nil {
			return removed, fmt.Errorf("flood: gc: %w", err)
		}
		removed += n
	}
	return removed, nil
}

func (b *RedisBackend) scan(ctx context.Context, pattern string) ([]string, error) {
	keys := []string{}
	iter := b.client.Scan(ctx, 0, pattern, redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func memberExpiration(member string) (int64, bool) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) != 3 {
		return 0, false
	}
	expiration, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return expiration, true
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(value string) string {
	return globEscaper.Replace(value)
}
