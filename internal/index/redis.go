package index

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

type RedisOption func(*redisConfig)

type redisConfig struct {
	password    string
	db          int
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration
	dialTimeout time.Duration
}

func WithPassword(password string) RedisOption {
	return func(c *redisConfig) {
		c.password = password
	}
}

func WithDatabase(db int) RedisOption {
	return func(c *redisConfig) {
		c.db = db
	}
}

// WithPoolSize bounds the number of idle and active connections. A zero
// maxActive means no limit.
func WithPoolSize(maxIdle, maxActive int) RedisOption {
	return func(c *redisConfig) {
		c.maxIdle = maxIdle
		c.maxActive = maxActive
	}
}

func WithDialTimeout(timeout time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.dialTimeout = timeout
	}
}

// Redis is an Index backed by a Redis server. Values go over the wire as raw
// bytes and are never converted to strings.
type Redis struct {
	pool *redis.Pool
}

var _ Index = (*Redis)(nil)

// NewRedis returns an Index talking to the Redis server at addr. No
// connection is made until the first command.
func NewRedis(addr string, options ...RedisOption) *Redis {
	c := &redisConfig{
		maxIdle:     8,
		idleTimeout: 4 * time.Minute,
		dialTimeout: 5 * time.Second,
	}
	for _, option := range options {
		option(c)
	}

	pool := &redis.Pool{
		MaxIdle:     c.maxIdle,
		MaxActive:   c.maxActive,
		IdleTimeout: c.idleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr,
				redis.DialPassword(c.password),
				redis.DialDatabase(c.db),
				redis.DialConnectTimeout(c.dialTimeout),
			)
		},
		TestOnBorrow: func(conn redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := conn.Do("PING")
			return err
		},
	}
	return &Redis{pool: pool}
}

func (r *Redis) do(ctx context.Context, cmd string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get redis connection")
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, cmd, args...)
	if err != nil && err != redis.ErrNil {
		return nil, errors.Wrapf(err, "redis %s failed", cmd)
	}
	return reply, err
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := redis.Bytes(r.do(ctx, "GET", key))
	if err == redis.ErrNil {
		return nil, ErrNil
	}
	return value, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.do(ctx, "SET", key, value)
	return err
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return redis.Int64(r.do(ctx, "INCR", key))
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	values, err := redis.ByteSlices(r.do(ctx, "HGETALL", key))
	if err != nil {
		return nil, err
	}
	if len(values)%2 != 0 {
		return nil, errors.Errorf("redis HGETALL %s: odd number of elements", key)
	}

	hash := make(map[string][]byte, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		hash[string(values[i])] = values[i+1]
	}
	return hash, nil
}

func (r *Redis) HSet(ctx context.Context, key, field string, value []byte) error {
	_, err := r.do(ctx, "HSET", key, field, value)
	return err
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return redis.Int64(r.do(ctx, "HINCRBY", key, field, delta))
}

func (r *Redis) Close() error {
	return r.pool.Close()
}
