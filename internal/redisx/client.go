package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

const inFlight = "\x00pending"

// Claims reserves keys in redis so a piece of work runs once.
type Claims struct {
	RDB   *redis.Client
	Scope string
}

// Claim returns true when the caller now owns key. The claim is short-lived
// until Done stores the outcome.
func (c *Claims) Claim(ctx context.Context, key string) (bool, error) {
	return c.RDB.SetNX(ctx, c.key(key), inFlight, TTLInFlight).Result()
}

// Done marks key finished and keeps result for ttl.
func (c *Claims) Done(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	if result == nil {
		result = []byte{}
	}
	return c.RDB.Set(ctx, c.key(key), result, ttl).Err()
}

// Release drops a claim after a failure so a retry can run.
func (c *Claims) Release(ctx context.Context, key string) error {
	return c.RDB.Del(ctx, c.key(key)).Err()
}

// Result returns the stored outcome. pending is true while the owner has
// not called Done yet.
func (c *Claims) Result(ctx context.Context, key string) (result []byte, pending bool, err error) {
	b, err := c.RDB.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(b) == inFlight {
		return nil, true, nil
	}
	return b, false, nil
}

func (c *Claims) key(k string) string {
	return fmt.Sprintf(KeyIdempotency, c.Scope, k)
}

// Dedup tracks processed event ids per consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
