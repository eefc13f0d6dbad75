package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/infra"
	"github.com/xela07ax/agentgate/internal/policy"
	"go.uber.org/zap"
)

// RuleRepository описывает требования сервиса к хранилищу правил.
type RuleRepository interface {
	LoadRules(ctx context.Context) ([]domain.PolicyRule, error)
	LoadBudgets(ctx context.Context) (map[string]domain.Budget, error)
	ReplaceRuleSet(ctx context.Context, rules []domain.PolicyRule, budgets map[string]domain.Budget) error
}

// RuleSet — полный набор, которым оперирует консоль: правила и бюджеты
// меняются только вместе, одной публикацией. DefaultEffect — справочное
// поле ответа; сам дефолт задается конфигом процесса и через PUT не
// меняется.
type RuleSet struct {
	Rules         []domain.PolicyRule      `json:"rules"`
	Budgets       map[string]domain.Budget `json:"budgets"`
	DefaultEffect domain.PolicyEffect      `json:"default_effect,omitempty"`
}

type PolicyService struct {
	repo          RuleRepository
	rdb           *redis.Client
	defaultEffect domain.PolicyEffect
	logger        *zap.Logger
}

func NewPolicyService(repo RuleRepository, rdb *redis.Client, defaultEffect domain.PolicyEffect, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		repo:          repo,
		rdb:           rdb,
		defaultEffect: defaultEffect,
		logger:        logger.Named("policy-service"),
	}
}

// GetAll возвращает действующий набор из БД.
func (s *PolicyService) GetAll(ctx context.Context) (*RuleSet, error) {
	rules, err := s.repo.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	budgets, err := s.repo.LoadBudgets(ctx)
	if err != nil {
		return nil, err
	}
	return &RuleSet{Rules: rules, Budgets: budgets, DefaultEffect: s.defaultEffect}, nil
}

// Replace валидирует набор сборкой снапшота, сохраняет его целиком и
// уведомляет шлюзы. Невалидный набор не попадает в БД вовсе.
func (s *PolicyService) Replace(ctx context.Context, set *RuleSet) error {
	if _, err := policy.NewSnapshot(set.Rules, set.Budgets, s.defaultEffect); err != nil {
		return fmt.Errorf("rule set rejected: %w", err)
	}

	if err := s.repo.ReplaceRuleSet(ctx, set.Rules, set.Budgets); err != nil {
		return err
	}

	s.logger.Info("rule set replaced",
		zap.Int("rules", len(set.Rules)),
		zap.Int("budgets", len(set.Budgets)),
	)
	return s.notifyUpdate(ctx)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы шлюза, подписанные на канал, вызовут Refresh() своего стора.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал простой: шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanRuleUpdate, "refresh").Err()
}
