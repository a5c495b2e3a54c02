package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/deskclient/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Redis keeps values as plain string keys and broadcasts every write on a
// pub/sub channel, so clients on different machines sharing one account
// store behave like tabs of one browser.
type Redis struct {
	rdb    *redis.Client
	prefix string
	origin string
	log    logging.Logger
	owns   bool
}

// NewRedis connects using a URL such as redis://:pass@host:6379/0 and
// pings the server before returning. An empty prefix becomes "desk:".
func NewRedis(ctx context.Context, redisURL, prefix string, opts ...Option) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := NewRedisFromClient(rdb, prefix, opts...)
	r.owns = true
	return r, nil
}

// NewRedisFromClient wraps an existing client. Close leaves rdb open.
func NewRedisFromClient(rdb *redis.Client, prefix string, opts ...Option) *Redis {
	if prefix == "" {
		prefix = "desk:"
	}
	o := buildOptions(opts)
	return &Redis{rdb: rdb, prefix: prefix, origin: o.origin, log: o.logger}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) channel() string { return r.prefix + "changes" }

func (r *Redis) Origin() string { return r.origin }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	msg, err := encodeChange(Change{Key: key, Value: value, Origin: r.origin})
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key(key), value, 0)
	pipe.Publish(ctx, r.channel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	msg, err := encodeChange(Change{Key: key, Deleted: true, Origin: r.origin})
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.key(key))
	pipe.Publish(ctx, r.channel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to the change channel. The subscription is confirmed
// before Watch returns so no write made afterwards is missed.
func (r *Redis) Watch(ctx context.Context, key string) (<-chan Change, error) {
	sub := r.rdb.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				c, err := decodeChange(m.Payload)
				if err != nil {
					r.log.Warn(ctx, "dropping malformed storage change", "error", err)
					continue
				}
				if c.Key != key || c.Origin == r.origin {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Close() error {
	if !r.owns {
		return nil
	}
	return r.rdb.Close()
}

func encodeChange(c Change) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode change: %w", err)
	}
	return string(b), nil
}

func decodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	if c.Key == "" || c.Origin == "" {
		return Change{}, errors.New("change without key or origin")
	}
	return c, nil
}
