package persistence

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/robosafe/pkg/bus"
	"github.com/jordigilh/robosafe/pkg/orchestration"
)

// RedisConfig controls the stream an audit entry is appended to and how it
// is trimmed.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
	Timeout  time.Duration
}

// DefaultRedisConfig bounds a single XADD to 2s and caps the stream to an
// approximate 10k entries so an unattended deployment doesn't grow it
// unbounded.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Stream: "robosafe:audit", MaxLen: 10000, Timeout: 2 * time.Second}
}

// RedisSink appends audit entries to a Redis stream via XADD.
type RedisSink struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	log     logr.Logger
}

// NewRedisSink dials a client from cfg. The connection is lazy: a dial
// failure only surfaces on the first WriteAudit/Run call, consistent with
// the sink's fire-and-forget contract.
func NewRedisSink(cfg RedisConfig, logger logr.Logger) *RedisSink {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return NewRedisSinkFromClient(client, cfg, logger)
}

// NewRedisSinkFromClient builds a RedisSink around an already-constructed
// client, so tests can inject one dialed against a miniredis instance.
func NewRedisSinkFromClient(client *redis.Client, cfg RedisConfig, logger logr.Logger) *RedisSink {
	if cfg.Stream == "" {
		cfg.Stream = DefaultRedisConfig().Stream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisConfig().Timeout
	}
	return &RedisSink{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen, timeout: cfg.Timeout, log: logger}
}

// WriteAudit appends one entry to the configured stream. A failure is
// logged and returned, never panicking or retrying.
func (s *RedisSink) WriteAudit(ctx context.Context, entry orchestration.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"timestamp":  entry.Timestamp.UnixMilli(),
			"event_type": entry.EventType,
			"message":    entry.Message,
			"details":    string(marshalDetails(entry.Details)),
		},
	}
	_, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		s.log.Error(err, "redis audit write failed", "event_type", entry.EventType)
	}
	return err
}

// Run drains ib for audit_log broadcasts and mirrors each to the stream
// until ctx is cancelled or the inbox closes. A write failure is logged by
// WriteAudit and otherwise ignored: the stream is a mirror, not a source of
// truth the decision path depends on.
func (s *RedisSink) Run(ctx context.Context, ib *bus.Inbox) {
	for {
		msg, ok := ib.Receive(ctx)
		if !ok {
			return
		}
		if msg.Type != orchestration.MsgAuditLog {
			continue
		}
		entry, ok := entryFromMessage(msg.Payload)
		if !ok {
			continue
		}
		_ = s.WriteAudit(ctx, entry)
	}
}

// Close releases the underlying client's connections.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
