package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	responsePrefix = "idemp:"
	claimPrefix    = "idemp-lock:"
)

// Idempotency keeps replayable responses and in-flight claims for
// Idempotency-Key requests.
type Idempotency struct {
	client redis.Cmdable
}

func NewIdempotency(client redis.Cmdable) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Result      []byte `json:"result"`
}

// Get returns nil, nil when nothing is stored under key.
func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, responsePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: idempotency get")
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "redis: idempotency decode")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "redis: idempotency encode")
	}
	return errors.Wrap(i.client.Set(ctx, responsePrefix+key, data, ttl).Err(), "redis: idempotency set")
}

// Claim marks key as in flight. It returns false when another request
// holds the claim.
func (i *Idempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, claimPrefix+key, 1, ttl).Result()
	return ok, errors.Wrap(err, "redis: idempotency claim")
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, claimPrefix+key).Err(), "redis: idempotency release")
}
