package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/retry"
)

const (
	// DefaultStreamMaxLen caps the event stream length
	DefaultStreamMaxLen = 10000
	// DefaultPublishTimeout bounds the round trips of one Publish
	DefaultPublishTimeout = 2 * time.Second
)

// RedisConfig holds the connection and destination settings for the redis sink
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Channel      string
	Stream       string
	StreamMaxLen int64
	// PublishTimeout defaults to DefaultPublishTimeout
	PublishTimeout time.Duration
}

// Redis publishes events on a Pub/Sub channel and appends them to a stream
type Redis struct {
	client         *redis.Client
	logger         logger.Logger
	channel        string
	stream         string
	streamMaxLen   int64
	publishTimeout time.Duration
}

var _ Sink = (*Redis)(nil)

// NewRedis connects to redis, retrying with backoff until the server answers a ping
func NewRedis(ctx context.Context, cfg RedisConfig, log logger.Logger, retryCfg retry.Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.WithBackoff(ctx, retryCfg, log, "redis_connection", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	log.Info("Connected to Redis at %s (db %d, channel %q, stream %q)", cfg.Addr, cfg.DB, cfg.Channel, cfg.Stream)
	return NewRedisFromClient(client, cfg, log), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client, cfg RedisConfig, log logger.Logger) *Redis {
	maxLen := cfg.StreamMaxLen
	if maxLen == 0 {
		maxLen = DefaultStreamMaxLen
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Redis{
		client:         client,
		logger:         log,
		channel:        cfg.Channel,
		stream:         cfg.Stream,
		streamMaxLen:   maxLen,
		publishTimeout: timeout,
	}
}

func (r *Redis) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()

	if r.channel != "" {
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			metrics.EventsDropped.WithLabelValues("redis_pubsub").Inc()
			return fmt.Errorf("failed to publish event %s to channel %s: %w", event.ID, r.channel, err)
		}
	}

	if r.stream != "" {
		args := &redis.XAddArgs{
			Stream: r.stream,
			MaxLen: r.streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":   event.ID,
				"type": string(event.Type),
				"data": payload,
			},
		}
		if err := r.client.XAdd(ctx, args).Err(); err != nil {
			metrics.EventsDropped.WithLabelValues("redis_stream").Inc()
			return fmt.Errorf("failed to append event %s to stream %s: %w", event.ID, r.stream, err)
		}
	}

	return nil
}

// Health checks if Redis is reachable
func (r *Redis) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
