package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewCache(db)
	ctx := context.Background()

	mock.ExpectSetNX("lock:approval:7", c.token, 2*time.Minute).SetVal(true)
	ok, err := c.TryLock(ctx, "approval:7", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectSetNX("lock:approval:7", c.token, 2*time.Minute).SetVal(false)
	ok, err = c.TryLock(ctx, "approval:7", 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyGetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	i := NewIdempotency(db)

	mock.ExpectGet("idemp:k1").RedisNil()
	resp, err := i.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRoundTrip(t *testing.T) {
	db, mock := redismock.NewClientMock()
	i := NewIdempotency(db)
	ctx := context.Background()

	stored := IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"id":1}`)}
	data, err := json.Marshal(stored)
	require.NoError(t, err)

	mock.ExpectSet("idemp:k2", data, time.Hour).SetVal("OK")
	require.NoError(t, i.Set(ctx, "k2", stored, time.Hour))

	mock.ExpectGet("idemp:k2").SetVal(string(data))
	got, err := i.Get(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, stored, *got)

	mock.ExpectSetNX("idemp-lock:k2", 1, time.Minute).SetVal(true)
	ok, err := i.Claim(ctx, "k2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	i := NewIdempotency(db)

	mock.ExpectGet("idemp:k3").SetErr(redis.ErrClosed)
	_, err := i.Get(context.Background(), "k3")
	assert.Error(t, err)
}
