package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/giftclaim/internal/domain"
)

// ClaimEventPublisher publishes terminal claim outcomes on a per-tenant
// channel.
type ClaimEventPublisher struct {
	rdb *goredis.Client
}

var _ domain.ClaimEventPublisher = (*ClaimEventPublisher)(nil)

func NewClaimEventPublisher(rdb *goredis.Client) *ClaimEventPublisher {
	return &ClaimEventPublisher{rdb: rdb}
}

func (p *ClaimEventPublisher) PublishClaim(ctx context.Context, event domain.ClaimEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode claim event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ClaimChannel(event.AccessKey), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish claim event: %w", err)
	}
	return nil
}

func ClaimChannel(accessKey string) string {
	return "claims:" + accessKey
}
