package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/agentgate/internal/domain"
	"go.uber.org/zap"
)

// memRepo — in-memory Repository with the same compare-and-set transition
// semantics as the postgres implementation.
type memRepo struct {
	mu   sync.Mutex
	apps map[string]*domain.Approval
}

func newMemRepo() *memRepo {
	return &memRepo{apps: make(map[string]*domain.Approval)}
}

func (m *memRepo) CreateApproval(ctx context.Context, app *domain.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *memRepo) GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *memRepo) FindApprovals(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Approval
	for _, app := range m.apps {
		if status != "" && app.Status != status {
			continue
		}
		if agent != "" && app.Agent != agent {
			continue
		}
		cp := *app
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRepo) DecideApproval(ctx context.Context, id string, decision domain.ApprovalDecision, approver, comment, signature string) (*domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	if app.Status != domain.StatusPending {
		return nil, domain.ErrApprovalAlreadyDecided
	}
	app.Status = decision.Status()
	app.Decision = &decision
	app.Approver = &approver
	app.Comment = &comment
	app.Signature = &signature
	cp := *app
	return &cp, nil
}

func (m *memRepo) MarkExecuted(ctx context.Context, id string) (*domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	if app.Status != domain.StatusApproved {
		return nil, domain.ErrApprovalNotApproved
	}
	app.Status = domain.StatusExecuted
	cp := *app
	return &cp, nil
}

// testService builds a service over memRepo with a controllable clock.
func testService(t *testing.T) (*Service, *memRepo, *time.Time) {
	t.Helper()
	repo := newMemRepo()
	svc := NewService(repo, []byte("test-secret"), time.Hour, zap.NewNop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }
	return svc, repo, clock
}

func TestService_RequestDefaults(t *testing.T) {
	t.Parallel()
	svc, _, clock := testService(t)
	ctx := context.Background()

	app, err := svc.Request(ctx, "bot", "deploy.release", map[string]any{"env": "production"}, "prod deploy", 0)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if app.Status != domain.StatusPending {
		t.Errorf("Status = %s, want PENDING", app.Status)
	}
	if app.ID == "" {
		t.Error("ID is empty")
	}
	if want := clock.Add(time.Hour); !app.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v (default ttl)", app.ExpiresAt, want)
	}
}

func TestService_RequestNegativeTTL(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)

	_, err := svc.Request(context.Background(), "bot", "act", nil, "r", -time.Second)
	if !errors.Is(err, domain.ErrInvalidTTL) {
		t.Errorf("Request(ttl<0) error = %v, want ErrInvalidTTL", err)
	}
}

func TestService_DecideApprove(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, err := svc.Request(ctx, "bot", "act", nil, "r", 5*time.Second)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	decided, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, "lgtm")
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if decided.Status != domain.StatusApproved {
		t.Errorf("Status = %s, want APPROVED", decided.Status)
	}
	if decided.Approver == nil || *decided.Approver != "alice" {
		t.Errorf("Approver = %v, want alice", decided.Approver)
	}
	if decided.Signature == nil || *decided.Signature != sig {
		t.Error("signature was not persisted with the decision")
	}
}

func TestService_DecideExpired(t *testing.T) {
	t.Parallel()
	svc, _, clock := testService(t)
	ctx := context.Background()

	app, err := svc.Request(ctx, "bot", "act", nil, "r", 5*time.Second)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}

	// ttl 5s, decision comes at t+6s
	*clock = clock.Add(6 * time.Second)

	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, ""); !errors.Is(err, domain.ErrApprovalExpired) {
		t.Errorf("Decide() after expiry error = %v, want ErrApprovalExpired", err)
	}
}

func TestService_DecideTwice(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", time.Hour)
	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, ""); err != nil {
		t.Fatalf("first Decide() error: %v", err)
	}

	sig2 := svc.SignDecision(app, domain.DecisionRejected, "bob")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionRejected, "bob", sig2, ""); !errors.Is(err, domain.ErrApprovalAlreadyDecided) {
		t.Errorf("second Decide() error = %v, want ErrApprovalAlreadyDecided", err)
	}
}

func TestService_DecideBadSignature(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", time.Hour)

	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", "deadbeef", ""); !errors.Is(err, domain.ErrApprovalInvalidSignature) {
		t.Errorf("Decide() error = %v, want ErrApprovalInvalidSignature", err)
	}

	// The approver is part of the canonical message: a signature minted for
	// alice must not authorize bob's decision.
	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "bob", sig, ""); !errors.Is(err, domain.ErrApprovalInvalidSignature) {
		t.Errorf("Decide() with stolen signature error = %v, want ErrApprovalInvalidSignature", err)
	}
}

func TestService_DecideInvalidDecision(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)

	if _, err := svc.Decide(context.Background(), "whatever", "maybe", "alice", "sig", ""); !errors.Is(err, domain.ErrInvalidDecision) {
		t.Errorf("Decide() error = %v, want ErrInvalidDecision", err)
	}
}

func TestService_DecideNotFound(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)

	if _, err := svc.Decide(context.Background(), "missing", domain.DecisionApproved, "alice", "sig", ""); !errors.Is(err, domain.ErrApprovalNotFound) {
		t.Errorf("Decide() error = %v, want ErrApprovalNotFound", err)
	}
}

func TestService_MarkExecutedOnce(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", time.Hour)
	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, ""); err != nil {
		t.Fatalf("Decide() error: %v", err)
	}

	executed, err := svc.MarkExecuted(ctx, app.ID)
	if err != nil {
		t.Fatalf("MarkExecuted() error: %v", err)
	}
	if executed.Status != domain.StatusExecuted {
		t.Errorf("Status = %s, want EXECUTED", executed.Status)
	}

	// Second consumption must fail loudly, not no-op
	if _, err := svc.MarkExecuted(ctx, app.ID); !errors.Is(err, domain.ErrApprovalNotApproved) {
		t.Errorf("second MarkExecuted() error = %v, want ErrApprovalNotApproved", err)
	}
}

func TestService_MarkExecutedPending(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", time.Hour)

	if _, err := svc.MarkExecuted(ctx, app.ID); !errors.Is(err, domain.ErrApprovalNotApproved) {
		t.Errorf("MarkExecuted() on PENDING error = %v, want ErrApprovalNotApproved", err)
	}
}

func TestService_MarkExecutedExpiredApproval(t *testing.T) {
	t.Parallel()
	svc, _, clock := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", 5*time.Second)
	sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
	if _, err := svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, ""); err != nil {
		t.Fatalf("Decide() error: %v", err)
	}

	// Approved in time, but consumed after expiry
	*clock = clock.Add(6 * time.Second)
	if _, err := svc.MarkExecuted(ctx, app.ID); !errors.Is(err, domain.ErrApprovalExpired) {
		t.Errorf("MarkExecuted() after expiry error = %v, want ErrApprovalExpired", err)
	}
}

func TestService_ConcurrentDecideSingleWinner(t *testing.T) {
	t.Parallel()
	svc, _, _ := testService(t)
	ctx := context.Background()

	app, _ := svc.Request(ctx, "bot", "act", nil, "r", time.Hour)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := svc.SignDecision(app, domain.DecisionApproved, "alice")
			_, errs[i] = svc.Decide(ctx, app.ID, domain.DecisionApproved, "alice", sig, "")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, domain.ErrApprovalAlreadyDecided) {
			t.Errorf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}
