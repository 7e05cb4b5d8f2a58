// Package publish announces finished runs on Redis so that dashboards and
// other processes can pick up the latest result without opening the store.
//
// For run <id> the publisher writes
//
//	HSET delaynet:run:<id> status ... wall_time ... completed ... ticks ... spikes ... digest ...
//	SET  delaynet:last_run <id>
package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/daviddao/delaynet/pkg/model"
)

// DefaultPrefix namespaces every key the publisher writes.
const DefaultPrefix = "delaynet"

// Client is the subset of Redis the publisher needs.
type Client interface {
	HSet(ctx context.Context, key string, fields map[string]any) error
	Set(ctx context.Context, key, value string) error
}

// GoRedisClient implements Client with github.com/redis/go-redis/v9.
type GoRedisClient struct{ c *redis.Client }

// NewGoRedisClient connects to addr, either "host:port" or a redis:// URL.
func NewGoRedisClient(addr string) (*GoRedisClient, error) {
	opt := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		if opt, err = redis.ParseURL(addr); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	}
	return &GoRedisClient{c: redis.NewClient(opt)}, nil
}

func (g *GoRedisClient) HSet(ctx context.Context, key string, fields map[string]any) error {
	return g.c.HSet(ctx, key, fields).Err()
}

func (g *GoRedisClient) Set(ctx context.Context, key, value string) error {
	return g.c.Set(ctx, key, value, 0).Err()
}

// Close releases the connection pool.
func (g *GoRedisClient) Close() error { return g.c.Close() }

// Publisher writes run summaries through a Client.
type Publisher struct {
	c       Client
	prefix  string
	timeout time.Duration
}

// New returns a publisher using DefaultPrefix.
func New(c Client) *Publisher {
	return &Publisher{c: c, prefix: DefaultPrefix, timeout: 5 * time.Second}
}

// RunKey returns the hash key of run id.
func (p *Publisher) RunKey(id string) string { return p.prefix + ":run:" + id }

// LastRunKey returns the key pointing at the most recent run.
func (p *Publisher) LastRunKey() string { return p.prefix + ":last_run" }

// Publish writes the summary of r and marks it as the latest run.
func (p *Publisher) Publish(ctx context.Context, r model.Run) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	fields := map[string]any{
		"status":     string(r.Status),
		"started_at": r.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration":   strconv.FormatFloat(r.Duration, 'g', -1, 64),
		"dt":         strconv.FormatFloat(r.Dt, 'g', -1, 64),
		"wall_time":  strconv.FormatFloat(r.WallTime, 'g', -1, 64),
		"completed":  strconv.FormatFloat(r.Completed, 'g', -1, 64),
		"ticks":      r.Ticks,
		"spikes":     r.Spikes,
		"digest":     r.Digest,
	}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	if err := p.c.HSet(ctx, p.RunKey(r.ID), fields); err != nil {
		return fmt.Errorf("publish run %s: %w", r.ID, err)
	}
	if err := p.c.Set(ctx, p.LastRunKey(), r.ID); err != nil {
		return fmt.Errorf("publish last run: %w", err)
	}
	return nil
}
