package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/xela07ax/agentgate/internal/domain"
	"go.uber.org/zap"
)

// stubSource feeds the store canned data or an error.
type stubSource struct {
	rules   []domain.PolicyRule
	budgets map[string]domain.Budget
	err     error
}

func (s *stubSource) LoadRules(ctx context.Context) ([]domain.PolicyRule, error) {
	return s.rules, s.err
}

func (s *stubSource) LoadBudgets(ctx context.Context) (map[string]domain.Budget, error) {
	return s.budgets, s.err
}

func TestNewSnapshot_Validation(t *testing.T) {
	t.Parallel()

	valid := rule("r-1", "bot", "act", nil, domain.EffectAllow, 10)

	tests := []struct {
		name    string
		rules   []domain.PolicyRule
		budgets map[string]domain.Budget
		def     domain.PolicyEffect
		wantErr bool
	}{
		{"valid set", []domain.PolicyRule{valid}, nil, domain.EffectDeny, false},
		{"empty set", nil, nil, domain.EffectAllow, false},
		{"default cannot be needs_approval", nil, nil, domain.EffectNeedsApproval, true},
		{"duplicate ids", []domain.PolicyRule{valid, valid}, nil, domain.EffectDeny, true},
		{
			"missing id",
			[]domain.PolicyRule{{Agent: "a", Action: "b", Effect: domain.EffectAllow, Reason: "r"}},
			nil, domain.EffectDeny, true,
		},
		{
			"invalid effect",
			[]domain.PolicyRule{{ID: "x", Agent: "a", Action: "b", Effect: "MAYBE", Reason: "r"}},
			nil, domain.EffectDeny, true,
		},
		{
			"priority above range",
			[]domain.PolicyRule{rule("x", "a", "b", nil, domain.EffectAllow, 1001)},
			nil, domain.EffectDeny, true,
		},
		{
			"missing reason",
			[]domain.PolicyRule{{ID: "x", Agent: "a", Action: "b", Effect: domain.EffectAllow, Priority: 1}},
			nil, domain.EffectDeny, true,
		},
		{
			"negative budget",
			nil,
			map[string]domain.Budget{"a:b": {MaxOps: -1}},
			domain.EffectDeny, true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSnapshot(tt.rules, tt.budgets, tt.def)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSnapshot() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_RefreshReplacesSnapshotAtomically(t *testing.T) {
	t.Parallel()

	src := &stubSource{}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	// Empty snapshot before first refresh: default effect rules
	dec := Evaluate(store.Current(), "bot", "act", nil)
	if dec.Effect != domain.EffectDeny {
		t.Fatalf("before refresh: Effect = %s, want DENY", dec.Effect)
	}

	src.rules = []domain.PolicyRule{rule("r-1", "bot", "act", nil, domain.EffectAllow, 5)}
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	dec = Evaluate(store.Current(), "bot", "act", nil)
	if dec.Effect != domain.EffectAllow {
		t.Errorf("after refresh: Effect = %s, want ALLOW", dec.Effect)
	}
}

func TestStore_RefreshRejectsInvalidSetKeepsOld(t *testing.T) {
	t.Parallel()

	src := &stubSource{
		rules: []domain.PolicyRule{rule("r-1", "bot", "act", nil, domain.EffectAllow, 5)},
	}
	store, err := NewStore(src, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	old := store.Current()

	// Next load is invalid: duplicate ids. The whole set must be rejected.
	src.rules = []domain.PolicyRule{
		rule("dup", "a", "b", nil, domain.EffectAllow, 1),
		rule("dup", "a", "b", nil, domain.EffectAllow, 1),
	}
	if err := store.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() with duplicate ids: expected error")
	}

	if store.Current() != old {
		t.Error("invalid refresh must keep the previous snapshot")
	}
}

func TestStore_RefreshSourceError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("db down")
	store, err := NewStore(&stubSource{err: wantErr}, domain.EffectDeny, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	if err := store.Refresh(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Refresh() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	snap := mustSnapshot(t,
		[]domain.PolicyRule{rule("r-1", "bot", "act", nil, domain.EffectAllow, 5)},
		map[string]domain.Budget{"bot:act": {MaxOps: 10}},
		domain.EffectDeny,
	)

	rules := snap.Rules()
	rules[0].Effect = domain.EffectDeny
	if got := snap.Rules()[0].Effect; got != domain.EffectAllow {
		t.Errorf("mutating Rules() copy leaked into snapshot: %s", got)
	}

	budgets := snap.Budgets()
	budgets["bot:act"] = domain.Budget{MaxOps: 999}
	if b, _ := snap.Budget("bot", "act"); b.MaxOps != 10 {
		t.Errorf("mutating Budgets() copy leaked into snapshot: %+v", b)
	}
}
