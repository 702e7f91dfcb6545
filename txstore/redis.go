package txstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the registry across nodes. Each transaction is a set of failed node IDs
// plus a marker member, so a transaction with no known failed node still exists.
// A TTL bounds growth; an expired record reads as not marked.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration // 0 disables expiry
}

const marker = "\x00"

var _ Store = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key(txID string) string { return "ptx:" + s.ns + ":" + txID }

// Mark adds the failed nodes and refreshes the TTL in one round trip.
func (s *Redis) Mark(ctx context.Context, txID string, failed []string) error {
	k := s.key(txID)
	members := make([]any, 0, len(failed)+1)
	members = append(members, marker)
	for _, n := range failed {
		members = append(members, n)
	}
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, k, members...)
		if s.ttl > 0 {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	return err
}

func (s *Redis) IsMarked(ctx context.Context, txID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(txID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Redis) Failed(ctx context.Context, txID string) ([]string, error) {
	ms, err := s.rdb.SMembers(ctx, s.key(txID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		if m != marker {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Redis) Forget(ctx context.Context, txID string) error {
	return s.rdb.Del(ctx, s.key(txID)).Err()
}

// Cleanup is a no-op; Redis expires records when a TTL is set.
func (s *Redis) Cleanup(time.Duration) {}

func (s *Redis) Close(context.Context) error { return s.rdb.Close() }
