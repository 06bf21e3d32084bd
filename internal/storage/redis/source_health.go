// Package redis records per-source fetch health in Redis hashes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldLastSuccess = "last_success"
	fieldLastError   = "last_error"
	fieldLastErrorAt = "last_error_at"

	connectionTimeout = 5 * time.Second
	defaultKeyPrefix  = "tender:source:"
)

// ErrEmptyAddress is returned when no Redis address is configured.
var ErrEmptyAddress = errors.New("redis address is required")

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SourceStatus is the recorded health of one source. Zero times mean never recorded.
type SourceStatus struct {
	LastSuccess time.Time
	LastError   string
	LastErrorAt time.Time
}

// SourceHealth stores one hash per source under KeyPrefix+name.
type SourceHealth struct {
	client *redis.Client
	prefix string
}

// Open connects and pings Redis.
func Open(ctx context.Context, cfg Config) (*SourceHealth, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return New(client, cfg.KeyPrefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *SourceHealth {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &SourceHealth{client: client, prefix: prefix}
}

// Close releases the client.
func (h *SourceHealth) Close() error {
	return h.client.Close()
}

// RecordSuccess stamps the source's last successful listing fetch.
func (h *SourceHealth) RecordSuccess(ctx context.Context, source string, at time.Time) error {
	if err := h.client.HSet(ctx, h.key(source), fieldLastSuccess, at.UTC().Format(time.RFC3339)).Err(); err != nil {
		return fmt.Errorf("record success for %s: %w", source, err)
	}
	return nil
}

// RecordFailure stores the source's last error message and time.
func (h *SourceHealth) RecordFailure(ctx context.Context, source string, at time.Time, message string) error {
	err := h.client.HSet(ctx, h.key(source),
		fieldLastError, message,
		fieldLastErrorAt, at.UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", source, err)
	}
	return nil
}

// Status reads back the recorded health of source.
func (h *SourceHealth) Status(ctx context.Context, source string) (SourceStatus, error) {
	fields, err := h.client.HGetAll(ctx, h.key(source)).Result()
	if err != nil {
		return SourceStatus{}, fmt.Errorf("read health for %s: %w", source, err)
	}
	var st SourceStatus
	st.LastError = fields[fieldLastError]
	if v := fields[fieldLastSuccess]; v != "" {
		st.LastSuccess, _ = time.Parse(time.RFC3339, v)
	}
	if v := fields[fieldLastErrorAt]; v != "" {
		st.LastErrorAt, _ = time.Parse(time.RFC3339, v)
	}
	return st, nil
}

func (h *SourceHealth) key(source string) string {
	return h.prefix + source
}
