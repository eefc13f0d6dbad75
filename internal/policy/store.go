package policy

/*
Файл store.go хранит снапшот правил и бюджетов для Hot Path шлюза.

В отличие от мутабельного кэша с RWMutex, снапшот неизменяем после сборки
и подменяется целиком через atomic.Pointer: читатели, начавшие вычисление
на старом снапшоте, дочитывают его до конца и никогда не видят частично
обновленный набор правил.
*/

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/xela07ax/agentgate/internal/domain"
	"go.uber.org/zap"
)

// SnapshotSource — требования стора к хранилищу (PostgreSQL).
// Используется только для Refresh(); в рантайме шлюз работает с памятью.
type SnapshotSource interface {
	LoadRules(ctx context.Context) ([]domain.PolicyRule, error)
	LoadBudgets(ctx context.Context) (map[string]domain.Budget, error)
}

// Snapshot — неизменяемый набор правил и бюджетов. Все поля приватные:
// после NewSnapshot содержимое не меняется.
type Snapshot struct {
	rules         []domain.PolicyRule
	budgets       map[string]domain.Budget
	defaultEffect domain.PolicyEffect
}

// NewSnapshot валидирует и собирает снапшот.
// Инварианты: уникальные id, приоритет 0..1000, непустой reason,
// валидный эффект, неотрицательные бюджеты.
func NewSnapshot(rules []domain.PolicyRule, budgets map[string]domain.Budget, defaultEffect domain.PolicyEffect) (*Snapshot, error) {
	if defaultEffect != domain.EffectAllow && defaultEffect != domain.EffectDeny {
		return nil, fmt.Errorf("default effect must be ALLOW or DENY, got %q", defaultEffect)
	}

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without id (agent=%s action=%s)", r.Agent, r.Action)
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}

		if !r.Effect.IsValid() {
			return nil, fmt.Errorf("rule %s: invalid effect %q", r.ID, r.Effect)
		}
		if r.Priority < 0 || r.Priority > 1000 {
			return nil, fmt.Errorf("rule %s: priority %d out of range 0..1000", r.ID, r.Priority)
		}
		if r.Reason == "" {
			return nil, fmt.Errorf("rule %s: reason is required", r.ID)
		}
	}

	for key, b := range budgets {
		if b.MaxDurationMs < 0 || b.MaxOps < 0 || b.MaxCostCents < 0 {
			return nil, fmt.Errorf("budget %s: negative limit", key)
		}
	}

	// Копируем входные данные: вызывающий может переиспользовать свои слайсы
	snap := &Snapshot{
		rules:         append([]domain.PolicyRule(nil), rules...),
		budgets:       make(map[string]domain.Budget, len(budgets)),
		defaultEffect: defaultEffect,
	}
	for k, v := range budgets {
		snap.budgets[k] = v
	}
	return snap, nil
}

// Rules возвращает копию списка правил (для выдачи в админку).
func (s *Snapshot) Rules() []domain.PolicyRule {
	return append([]domain.PolicyRule(nil), s.rules...)
}

// Budgets возвращает копию таблицы бюджетов.
func (s *Snapshot) Budgets() map[string]domain.Budget {
	out := make(map[string]domain.Budget, len(s.budgets))
	for k, v := range s.budgets {
		out[k] = v
	}
	return out
}

// Budget ищет бюджет пары agent+action. Отсутствие — без лимита.
func (s *Snapshot) Budget(agent, action string) (domain.Budget, bool) {
	b, ok := s.budgets[domain.BudgetKey(agent, action)]
	return b, ok
}

// DefaultEffect — решение при отсутствии совпавших правил.
func (s *Snapshot) DefaultEffect() domain.PolicyEffect {
	return s.defaultEffect
}

// Store отдает текущий снапшот в Hot Path и подменяет его при reload.
type Store struct {
	snap          atomic.Pointer[Snapshot]
	source        SnapshotSource
	defaultEffect domain.PolicyEffect
	logger        *zap.Logger
}

// NewStore создает стор с пустым снапшотом: до первого Refresh действует
// только дефолтный эффект.
func NewStore(source SnapshotSource, defaultEffect domain.PolicyEffect, logger *zap.Logger) (*Store, error) {
	empty, err := NewSnapshot(nil, nil, defaultEffect)
	if err != nil {
		return nil, err
	}
	st := &Store{
		source:        source,
		defaultEffect: defaultEffect,
		logger:        logger.Named("rulestore"),
	}
	st.snap.Store(empty)
	return st, nil
}

// Current — снапшот для вычисления решения. Lock-free.
func (s *Store) Current() *Snapshot {
	return s.snap.Load()
}

// Replace атомарно подменяет снапшот целиком.
func (s *Store) Replace(snap *Snapshot) {
	s.snap.Store(snap)
	s.logger.Info("rule snapshot replaced",
		zap.Int("rules", len(snap.rules)),
		zap.Int("budgets", len(snap.budgets)),
	)
}

// Refresh выполняет холодную загрузку полного набора правил из БД
// (при старте и по сигналу из Redis). Невалидный набор отклоняется
// целиком, старый снапшот остается действовать.
func (s *Store) Refresh(ctx context.Context) error {
	rules, err := s.source.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	budgets, err := s.source.LoadBudgets(ctx)
	if err != nil {
		return fmt.Errorf("load budgets: %w", err)
	}

	snap, err := NewSnapshot(rules, budgets, s.defaultEffect)
	if err != nil {
		return fmt.Errorf("invalid rule snapshot: %w", err)
	}

	s.Replace(snap)
	return nil
}
