package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conciergestack/schedmate/internal/cache"
	"github.com/conciergestack/schedmate/internal/models"
	"github.com/conciergestack/schedmate/internal/utils"
)

type stubFetcher struct {
	policy models.Policy
	err    error
	calls  int
}

func (s *stubFetcher) FetchPolicy(ctx context.Context, principalID string) (models.Policy, error) {
	s.calls++
	if s.err != nil {
		return models.Policy{}, s.err
	}
	return s.policy, nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (m *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *mapCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *mapCache) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) Close() error { return nil }

func TestStaticServesConfiguredPolicy(t *testing.T) {
	want := models.Policy{AutomationEnabled: true, ConfidenceThreshold: 0.85}
	p := NewStatic(want)

	got, err := p.Get(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConfidenceThreshold != 0.85 || !got.AutomationEnabled {
		t.Errorf("policy = %+v", got)
	}
}

func TestRemoteFallsBackOnError(t *testing.T) {
	logger := utils.NewLogger("error", false)
	fallback := models.Policy{AutomationEnabled: false, ConfidenceThreshold: 0.95}
	p := NewRemote(logger, &stubFetcher{err: errors.New("down")}, fallback)

	got, err := p.Get(context.Background(), "principal-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AutomationEnabled {
		t.Error("fallback policy should apply during a preferences outage")
	}
}

func TestCachedReadsThroughOnce(t *testing.T) {
	logger := utils.NewLogger("error", false)
	fetcher := &stubFetcher{policy: models.Policy{AutomationEnabled: true, ConfidenceThreshold: 0.9}}
	p := NewCached(logger, NewRemote(logger, fetcher, models.Policy{}), newMapCache(), time.Minute)

	for i := 0; i < 3; i++ {
		got, err := p.Get(context.Background(), "principal-1")
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		if got.ConfidenceThreshold != 0.9 {
			t.Errorf("Get %d: policy = %+v", i, got)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher calls = %d, want 1", fetcher.calls)
	}
}

func TestCachedInvalidateForcesRefetch(t *testing.T) {
	logger := utils.NewLogger("error", false)
	fetcher := &stubFetcher{policy: models.Policy{ConfidenceThreshold: 0.9}}
	p := NewCached(logger, NewRemote(logger, fetcher, models.Policy{}), newMapCache(), time.Minute)

	if _, err := p.Get(context.Background(), "principal-1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := p.Invalidate(context.Background(), "principal-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := p.Get(context.Background(), "principal-1"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if fetcher.calls != 2 {
		t.Errorf("fetcher calls = %d, want 2", fetcher.calls)
	}
}

func TestCachedNoopCacheStillServes(t *testing.T) {
	logger := utils.NewLogger("error", false)
	fetcher := &stubFetcher{policy: models.Policy{ConfidenceThreshold: 0.9}}
	p := NewCached(logger, NewRemote(logger, fetcher, models.Policy{}), cache.NoopProvider{}, time.Minute)

	got, err := p.Get(context.Background(), "principal-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConfidenceThreshold != 0.9 {
		t.Errorf("policy = %+v", got)
	}
}
