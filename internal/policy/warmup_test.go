package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgate/internal/domain"
)

// fakeSnapshotCache is an in-memory SnapshotCache with scriptable failures.
type fakeSnapshotCache struct {
	raw      []byte
	getErr   error
	lockHeld bool // another instance already owns the warm-up lock
	lockErr  error
	puts     int
	lastPut  []byte
}

func (c *fakeSnapshotCache) GetSnapshot(ctx context.Context) ([]byte, error) {
	return c.raw, c.getErr
}

func (c *fakeSnapshotCache) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if c.lockErr != nil {
		return false, c.lockErr
	}
	return !c.lockHeld, nil
}

func (c *fakeSnapshotCache) PutSnapshot(ctx context.Context, payload []byte, ttl time.Duration) error {
	c.puts++
	c.lastPut = append([]byte(nil), payload...)
	return nil
}

func encodeRuleSet(t *testing.T, rules []domain.PolicyRule, budgets map[string]domain.Budget) []byte {
	t.Helper()
	raw, err := json.Marshal(cachedRuleSet{Rules: rules, Budgets: budgets})
	if err != nil {
		t.Fatalf("marshal cached set: %v", err)
	}
	return raw
}

func TestWarmup_CacheHitSkipsDB(t *testing.T) {
	t.Parallel()

	// A failing source proves the DB was never consulted on a cache hit.
	src := &stubSource{err: errors.New("db down")}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	cached := rule("r-cached", "bot", "act", nil, domain.EffectAllow, 10)
	cache := &fakeSnapshotCache{raw: encodeRuleSet(t, []domain.PolicyRule{cached}, nil)}

	if err := store.Warmup(context.Background(), cache); err != nil {
		t.Fatalf("Warmup() error: %v", err)
	}
	rules := store.Current().Rules()
	if len(rules) != 1 || rules[0].ID != "r-cached" {
		t.Errorf("Rules() = %+v, want the cached rule installed", rules)
	}
	if cache.puts != 0 {
		t.Errorf("PutSnapshot calls = %d, want 0 on cache hit", cache.puts)
	}
}

func TestWarmup_CacheMissLoadsDBAndFills(t *testing.T) {
	t.Parallel()

	r := rule("r-db", "bot", "act", nil, domain.EffectDeny, 20)
	budgets := map[string]domain.Budget{domain.BudgetKey("bot", "act"): {MaxOps: 5}}
	src := &stubSource{rules: []domain.PolicyRule{r}, budgets: budgets}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	cache := &fakeSnapshotCache{}
	if err := store.Warmup(context.Background(), cache); err != nil {
		t.Fatalf("Warmup() error: %v", err)
	}
	if got := store.Current().Rules(); len(got) != 1 || got[0].ID != "r-db" {
		t.Errorf("Rules() = %+v, want the DB rule installed", got)
	}
	if cache.puts != 1 {
		t.Fatalf("PutSnapshot calls = %d, want 1 (lock winner fills the cache)", cache.puts)
	}

	// The stored payload must round-trip into the same set.
	var stored cachedRuleSet
	if err := json.Unmarshal(cache.lastPut, &stored); err != nil {
		t.Fatalf("unmarshal stored payload: %v", err)
	}
	if len(stored.Rules) != 1 || stored.Rules[0].ID != "r-db" {
		t.Errorf("stored rules = %+v, want r-db", stored.Rules)
	}
	if b := stored.Budgets[domain.BudgetKey("bot", "act")]; b.MaxOps != 5 {
		t.Errorf("stored budget MaxOps = %d, want 5", b.MaxOps)
	}
}

func TestWarmup_LockLostSkipsFill(t *testing.T) {
	t.Parallel()

	r := rule("r-db", "bot", "act", nil, domain.EffectAllow, 10)
	src := &stubSource{rules: []domain.PolicyRule{r}}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	cache := &fakeSnapshotCache{lockHeld: true}
	if err := store.Warmup(context.Background(), cache); err != nil {
		t.Fatalf("Warmup() error: %v", err)
	}
	// Losing the lock must not lose the local snapshot.
	if got := store.Current().Rules(); len(got) != 1 {
		t.Errorf("Rules() = %+v, want the DB rule installed", got)
	}
	if cache.puts != 0 {
		t.Errorf("PutSnapshot calls = %d, want 0 when the lock is held elsewhere", cache.puts)
	}
}

func TestWarmup_BadCacheFallsBackToDB(t *testing.T) {
	t.Parallel()

	valid := rule("r-db", "bot", "act", nil, domain.EffectAllow, 10)
	dup := rule("r-dup", "bot", "act", nil, domain.EffectAllow, 10)

	tests := []struct {
		name  string
		cache *fakeSnapshotCache
	}{
		{"corrupted payload", &fakeSnapshotCache{raw: []byte("{not json")}},
		{"invalid rule set", &fakeSnapshotCache{
			raw: encodeRuleSet(t, []domain.PolicyRule{dup, dup}, nil),
		}},
		{"cache unreachable", &fakeSnapshotCache{getErr: errors.New("redis down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &stubSource{rules: []domain.PolicyRule{valid}}
			store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
			if err != nil {
				t.Fatalf("NewStore() error: %v", err)
			}
			if err := store.Warmup(context.Background(), tt.cache); err != nil {
				t.Fatalf("Warmup() error: %v", err)
			}
			got := store.Current().Rules()
			if len(got) != 1 || got[0].ID != "r-db" {
				t.Errorf("Rules() = %+v, want the DB rule installed", got)
			}
		})
	}
}

func TestWarmup_DBFailureOnMissReturnsError(t *testing.T) {
	t.Parallel()

	src := &stubSource{err: errors.New("db down")}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	cache := &fakeSnapshotCache{}
	if err := store.Warmup(context.Background(), cache); err == nil {
		t.Fatal("Warmup() error = nil, want DB load failure")
	}
	if got := store.Current().Rules(); len(got) != 0 {
		t.Errorf("Rules() = %+v, want empty snapshot kept", got)
	}
	if cache.puts != 0 {
		t.Errorf("PutSnapshot calls = %d, want 0 after a failed load", cache.puts)
	}
}
