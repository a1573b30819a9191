package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeReservations claims room codes in Redis so that coordinator
// instances sharing one Redis never issue the same code. A claim expires
// after ttl in case its owner dies without releasing it.
type CodeReservations struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

func NewCodeReservations(client *redis.Client, ttl time.Duration, owner string) *CodeReservations {
	return &CodeReservations{client: client, ttl: ttl, owner: owner}
}

// Reserve reports whether code was free and is now held by this instance.
func (c *CodeReservations) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := c.client.SetNX(ctx, reservationKey(code), c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", code, err)
	}
	return ok, nil
}

// releaseScript deletes the key only while this instance still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees a code held by this instance.
func (c *CodeReservations) Release(ctx context.Context, code string) error {
	if err := releaseScript.Run(ctx, c.client, []string{reservationKey(code)}, c.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", code, err)
	}
	return nil
}

func reservationKey(code string) string {
	return "quiz:room:" + code
}
