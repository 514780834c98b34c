// Package idempotency stores the first response to a keyed request so
// that retries with the same key replay it instead of repeating the work.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
)

var ErrInFlight = errors.New("idempotency: a request with this key is still in flight")

const claimTTL = 30 * time.Second

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

// Begin claims key for one request. It fails with ErrInFlight while
// another request holds the claim.
func (i *Idempotency) Begin(ctx context.Context, key string) error {
	ok, err := i.redis.Claim(ctx, key, claimTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

// Release drops a claim without recording a response.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}

// Finish records resp, unless it is a server error, and drops the claim.
// 5xx responses are not stored so the client can retry.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	var err error
	if resp.Status < 500 {
		err = i.redis.Set(ctx, key, redisadapter.IdempResponse{
			Status:      resp.Status,
			ContentType: resp.ContentType,
			Result:      resp.Result,
		}, i.ttl)
	}
	return errors.CombineErrors(err, i.redis.Release(ctx, key))
}
