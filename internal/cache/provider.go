package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Namespace prefixes every cache key so a shared Valkey cluster can be
// scoped per deployment.
const Namespace = "schedmate"

// Key builds a namespaced cache key from a group and its identifying
// parts, e.g. Key("policy", principalID) -> "schedmate:policy:<id>".
func Key(group string, parts ...string) string {
	return strings.Join(append([]string{Namespace, group}, parts...), ":")
}

// KeyGroup extracts the group segment of a namespaced key for use as a
// metrics label. Keys outside the namespace report as "other".
func KeyGroup(key string) string {
	rest, ok := strings.CutPrefix(key, Namespace+":")
	if !ok {
		return "other"
	}
	group, _, _ := strings.Cut(rest, ":")
	if group == "" {
		return "other"
	}
	return group
}

// Provider defines the minimal cache operations needed by the service.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
