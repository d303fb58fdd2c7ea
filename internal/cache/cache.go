// Package cache holds resolved SLA policies in Redis so every worker replica
// shares one view between policy edits.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

const keyPrefix = "sla:policy:"

// Policies implements sla.PolicyCache. Redis failures degrade to misses.
type Policies struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewPolicies(rdb redis.Cmdable, ttl time.Duration) *Policies {
	return &Policies{rdb: rdb, ttl: ttl}
}

func (c *Policies) Get(ctx context.Context, key string) (*sla.Policy, bool) {
	if c == nil || c.rdb == nil || c.ttl <= 0 {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Ctx(ctx).Warn().Err(err).Msg("policy cache get")
		}
		return nil, false
	}
	var p sla.Policy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *Policies) Set(ctx context.Context, key string, p *sla.Policy) {
	if c == nil || c.rdb == nil || c.ttl <= 0 || p == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+key, b, c.ttl).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("policy cache set")
	}
}

// Flush drops every cached policy. Call it after policies are edited.
func (c *Policies) Flush(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

var _ sla.PolicyCache = (*Policies)(nil)
