// Package redis publishes session-closed events over Redis pub/sub.
//
// Each event is one JSON PUBLISH to a configurable channel, retried
// with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/gantry/adapter"
)

const (
	// DefaultChannel is the pub/sub channel when none is configured.
	DefaultChannel = "gantry:session_closed"
	// DefaultTimeout bounds a single PUBLISH.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the retry count after the initial attempt.
	DefaultRetries = 3
)

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name.
	Channel string
	// Timeout bounds each PUBLISH attempt.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
}

// Adapter publishes session events via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis pub/sub adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as JSON to the configured channel, retrying
// with exponential backoff until attempts run out or ctx is done.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionClosedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
		pubCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		err := a.client.Publish(pubCtx, a.config.Channel, payload).Err()
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("redis: publish to %s failed after %d attempts: %w",
		a.config.Channel, attempts, lastErr)
}

// sleepBackoff waits 500ms, 1s, 2s... before retry attempt (1-based).
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<(attempt-1)) * 500 * time.Millisecond
	select {
	case <-ctx.Done():
		return fmt.Errorf("redis: canceled during backoff: %w", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// Close releases the underlying client connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
