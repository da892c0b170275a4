package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// OccurrenceGuard remembers message occurrences for ttl so a redelivered
// message does not trigger a second claim.
type OccurrenceGuard struct {
	rdb *goredis.Client
	ttl time.Duration
}

var _ domain.OccurrenceGuard = (*OccurrenceGuard)(nil)

func NewOccurrenceGuard(rdb *goredis.Client, ttl time.Duration) *OccurrenceGuard {
	return &OccurrenceGuard{rdb: rdb, ttl: ttl}
}

// FirstSeen reports true exactly once per key within the ttl.
func (g *OccurrenceGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	args := goredis.SetArgs{TTL: g.ttl, Mode: "NX"}
	_, err := g.rdb.SetArgs(ctx, occurrenceKey(key), "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record occurrence: %w", err)
	}
	return true, nil
}

func occurrenceKey(key string) string {
	return "occurrence:" + key
}
