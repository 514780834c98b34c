package rateLimit

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"

	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
)

func TestAllow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(db))
	ctx := context.Background()

	mock.ExpectIncr("rl:ip:1.2.3.4").SetVal(2)
	mock.ExpectExpireNX("rl:ip:1.2.3.4", time.Minute).SetVal(false)
	assert.True(t, rl.Allow(ctx, "ip:1.2.3.4", 2, time.Minute))

	mock.ExpectIncr("rl:ip:1.2.3.4").SetVal(3)
	mock.ExpectExpireNX("rl:ip:1.2.3.4", time.Minute).SetVal(false)
	assert.False(t, rl.Allow(ctx, "ip:1.2.3.4", 2, time.Minute))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(redisadapter.NewCache(db))

	mock.ExpectIncr("rl:ip:1.2.3.4").SetErr(assert.AnError)
	assert.True(t, rl.Allow(context.Background(), "ip:1.2.3.4", 1, time.Minute))
}
