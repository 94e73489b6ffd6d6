package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rustyeddy/pmtrader/pkg/id"
)

// unlockScript deletes the key only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the key's expiry only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a lock shared by every process that talks to the same Redis.
// The key expires after TTL so a crashed holder cannot wedge the account;
// a live holder keeps extending it until release.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	poll   time.Duration
}

func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, key: key, ttl: ttl, poll: 50 * time.Millisecond}
}

// DialRedis connects with the options used across the project.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(cctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) Acquire(ctx context.Context, timeout time.Duration) (Release, error) {
	token := id.New()
	err := poll(ctx, timeout, r.poll, func(ctx context.Context) (bool, error) {
		ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock %s: %w", r.key, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	l := keepAlive(r.ttl, func(ctx context.Context) (bool, error) {
		n, err := renewScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
		return n == 1, err
	})

	var once sync.Once
	var rerr error
	return func() error {
		once.Do(func() {
			lost := l.end()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			rerr = unlockScript.Run(ctx, r.client, []string{r.key}, token).Err()
			if rerr == nil {
				rerr = lost
			}
		})
		return rerr
	}, nil
}
