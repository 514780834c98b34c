package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by another instance is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Cache struct {
	client redis.Cmdable
	token  string
}

func NewCache(client redis.Cmdable) *Cache {
	return &Cache{client: client, token: uuid.NewString()}
}

func (c *Cache) Client() redis.Cmdable {
	return c.client
}

// TryLock implements ticketing.Locker with SET NX.
func (c *Cache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "lock:"+key, c.token, ttl)
	return res.Val(), res.Err()
}

func (c *Cache) Unlock(ctx context.Context, key string) error {
	return unlockScript.Run(ctx, c.client, []string{"lock:" + key}, c.token).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
