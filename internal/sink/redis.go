package sink

import (
	"context"
	"fmt"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisSink pushes msgpack-encoded alerts onto a list and keeps a per-source
// alert counter. Sources that reach BlacklistMin alerts are added to the
// "<counter_key>:blacklist" set and their alerts are flagged.
type RedisSink struct {
	rdb          *redis.Client
	queue        string
	counterKey   string
	blacklistMin int64
	log          zerolog.Logger
}

// NewRedisSink parses the URL and pings the server.
func NewRedisSink(cfg config.RedisConfig, logger zerolog.Logger) (*RedisSink, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisSinkWithClient(rdb, cfg, logger), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(rdb *redis.Client, cfg config.RedisConfig, logger zerolog.Logger) *RedisSink {
	queue := cfg.Queue
	if queue == "" {
		queue = "pcapsentry:alerts"
	}
	return &RedisSink{
		rdb:          rdb,
		queue:        queue,
		counterKey:   cfg.CounterKey,
		blacklistMin: cfg.BlacklistMin,
		log:          logger.With().Str("component", "redis_sink").Logger(),
	}
}

// SaveAlert implements model.AlertSink. It sets alert.Blacklist when the
// source crosses the blacklist threshold. Counter failures are logged and do
// not keep the alert off the queue.
func (s *RedisSink) SaveAlert(ctx context.Context, alert *model.AlertRecord) error {
	if err := s.track(ctx, alert); err != nil {
		s.log.Warn().Err(err).Str("id", alert.ID).Str("source_ip", alert.SourceIP).Msg("blacklist bookkeeping failed")
	}

	data, err := msgpack.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.rdb.LPush(ctx, s.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to push alert: %w", err)
	}
	s.log.Debug().Str("id", alert.ID).Str("queue", s.queue).Msg("alert pushed")
	return nil
}

func (s *RedisSink) track(ctx context.Context, alert *model.AlertRecord) error {
	if s.counterKey == "" || alert.SourceIP == model.UnknownSourceIP {
		return nil
	}
	n, err := s.rdb.HIncrBy(ctx, s.counterKey, alert.SourceIP, 1).Result()
	if err != nil {
		return fmt.Errorf("failed to count alert source: %w", err)
	}
	if s.blacklistMin > 0 && n >= s.blacklistMin {
		alert.Blacklist = true
		if err := s.rdb.SAdd(ctx, s.BlacklistKey(), alert.SourceIP).Err(); err != nil {
			return fmt.Errorf("failed to blacklist source: %w", err)
		}
	}
	return nil
}

// BlacklistKey is the set holding blacklisted sources.
func (s *RedisSink) BlacklistKey() string {
	return s.counterKey + ":blacklist"
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
