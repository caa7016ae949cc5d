// Package policy resolves the automation policy that governs a principal's
// decisions. Policies come either from static configuration or from the
// preferences collaborator, optionally wrapped in a cache.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/conciergestack/schedmate/internal/cache"
	"github.com/conciergestack/schedmate/internal/models"
)

// Provider resolves the effective policy for one principal.
type Provider interface {
	Get(ctx context.Context, principalID string) (models.Policy, error)
}

// Static serves the same configured policy to every principal.
type Static struct {
	policy models.Policy
}

// NewStatic wraps a fixed policy as a Provider.
func NewStatic(policy models.Policy) *Static {
	return &Static{policy: policy}
}

func (s *Static) Get(ctx context.Context, principalID string) (models.Policy, error) {
	return s.policy, nil
}

// PreferencesFetcher is the slice of the preferences client this package
// needs.
type PreferencesFetcher interface {
	FetchPolicy(ctx context.Context, principalID string) (models.Policy, error)
}

// Remote resolves policies from the preferences collaborator and falls back
// to a configured default when the collaborator cannot answer. The fallback
// keeps decisions flowing during a preferences outage, on the configured
// default's terms.
type Remote struct {
	logger      *slog.Logger
	preferences PreferencesFetcher
	fallback    models.Policy
}

// NewRemote constructs a preferences-backed provider.
func NewRemote(logger *slog.Logger, preferences PreferencesFetcher, fallback models.Policy) *Remote {
	return &Remote{logger: logger, preferences: preferences, fallback: fallback}
}

func (r *Remote) Get(ctx context.Context, principalID string) (models.Policy, error) {
	policy, err := r.preferences.FetchPolicy(ctx, principalID)
	if err != nil {
		r.logger.Warn("preferences unavailable, using fallback policy",
			"principal_id", principalID, "error", err)
		return r.fallback, nil
	}
	return policy, nil
}

// Cached wraps a Provider with a cache. Policy reads happen on every
// decision; the TTL bounds how stale an operator's policy change can look.
type Cached struct {
	logger *slog.Logger
	next   Provider
	cache  cache.Provider
	ttl    time.Duration
}

// NewCached wraps next with read-through caching.
func NewCached(logger *slog.Logger, next Provider, cacheProvider cache.Provider, ttl time.Duration) *Cached {
	return &Cached{logger: logger, next: next, cache: cacheProvider, ttl: ttl}
}

func (c *Cached) Get(ctx context.Context, principalID string) (models.Policy, error) {
	key := cacheKey(principalID)

	if raw, err := c.cache.Get(ctx, key); err == nil {
		var policy models.Policy
		if err := json.Unmarshal(raw, &policy); err == nil {
			return policy, nil
		}
		c.logger.Warn("corrupt cached policy, refetching", "principal_id", principalID)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("policy cache read failed", "principal_id", principalID, "error", err)
	}

	policy, err := c.next.Get(ctx, principalID)
	if err != nil {
		return models.Policy{}, err
	}

	if raw, err := json.Marshal(policy); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn("policy cache write failed", "principal_id", principalID, "error", err)
		}
	}
	return policy, nil
}

// Invalidate drops the cached policy so the next read refetches.
func (c *Cached) Invalidate(ctx context.Context, principalID string) error {
	return c.cache.Del(ctx, cacheKey(principalID))
}

func cacheKey(principalID string) string {
	return cache.Key("policy", principalID)
}
