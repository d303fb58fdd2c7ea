package sla

import (
	"context"
	"strings"
)

// PolicyCache is an optional read-through cache for resolved policies.
// Implementations own expiry.
type PolicyCache interface {
	Get(ctx context.Context, key string) (*Policy, bool)
	Set(ctx context.Context, key string, p *Policy)
}

// Resolver selects the single most specific active policy for a ticket.
type Resolver struct {
	store PolicyStore
	cache PolicyCache
}

// NewResolver returns a Resolver. cache may be nil.
func NewResolver(store PolicyStore, cache PolicyCache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Tiers returns the lookups to try, most specific first:
// client+category, client only, category only, priority only, default.
// Tiers that need a scope the ticket does not have are omitted.
func Tiers(clientID, categoryID *string, priority Priority) []Match {
	tiers := make([]Match, 0, 5)
	if clientID != nil && categoryID != nil {
		tiers = append(tiers, Match{ClientID: clientID, CategoryID: categoryID, Priority: priority})
	}
	if clientID != nil {
		tiers = append(tiers, Match{ClientID: clientID, Priority: priority})
	}
	if categoryID != nil {
		tiers = append(tiers, Match{CategoryID: categoryID, Priority: priority})
	}
	tiers = append(tiers, Match{Priority: priority}, Match{Default: true})
	return tiers
}

// Resolve returns the first policy matched in tier order, or ErrNoPolicy.
func (r *Resolver) Resolve(ctx context.Context, clientID, categoryID *string, priority Priority) (*Policy, error) {
	key := cacheKey(clientID, categoryID, priority)
	if r.cache != nil {
		if p, ok := r.cache.Get(ctx, key); ok {
			return p, nil
		}
	}
	for _, m := range Tiers(clientID, categoryID, priority) {
		p, err := r.store.MatchPolicy(ctx, m)
		if err != nil {
			return nil, storeErr("match policy", err)
		}
		if p == nil {
			continue
		}
		if r.cache != nil {
			r.cache.Set(ctx, key, p)
		}
		return p, nil
	}
	return nil, ErrNoPolicy
}

func cacheKey(clientID, categoryID *string, priority Priority) string {
	part := func(s *string) string {
		if s == nil {
			return "-"
		}
		return *s
	}
	return strings.Join([]string{part(clientID), part(categoryID), string(priority)}, ":")
}
