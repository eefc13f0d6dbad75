package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentgate/internal/approval"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/infra"
	"go.uber.org/zap"
)

// ApprovalService — обертка консоли над жизненным циклом заявок:
// добавляет подпись от имени оператора и трансляцию вердиктов в Redis.
type ApprovalService struct {
	approvals *approval.Service
	rdb       *redis.Client
	logger    *zap.Logger
}

func NewApprovalService(approvals *approval.Service, rdb *redis.Client, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		approvals: approvals,
		rdb:       rdb,
		logger:    logger.Named("approval-service"),
	}
}

// Request регистрирует заявку вручную (обычно их создает шлюз, но
// операторам нужен и прямой путь — например, для согласования миграций).
func (s *ApprovalService) Request(ctx context.Context, agent, action string, reqCtx map[string]any, reason string, ttl time.Duration) (*domain.Approval, error) {
	return s.approvals.Request(ctx, agent, action, reqCtx, reason, ttl)
}

func (s *ApprovalService) Get(ctx context.Context, id string) (*domain.Approval, error) {
	return s.approvals.Get(ctx, id)
}

func (s *ApprovalService) List(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error) {
	return s.approvals.List(ctx, status, agent)
}

// Decide фиксирует вердикт оператора. Если подпись не передана, консоль
// считает ее сама от имени аутентифицированного оператора; внешние
// интеграции приносят подпись, посчитанную у себя.
func (s *ApprovalService) Decide(ctx context.Context, id string, decision domain.ApprovalDecision, approver, signature, comment string) (*domain.Approval, error) {
	if signature == "" {
		app, err := s.approvals.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		signature = s.approvals.SignDecision(app, decision, approver)
	}

	decided, err := s.approvals.Decide(ctx, id, decision, approver, signature, comment)
	if err != nil {
		return nil, err
	}

	// Трансляция вердикта: подписчики (дашборды, боты) узнают сразу,
	// не опрашивая БД. Ошибка публикации не откатывает решение.
	msg := fmt.Sprintf("%s:%s", decided.ID, decided.Status)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, msg).Err(); err != nil {
		s.logger.Warn("failed to broadcast approval decision",
			zap.String("id", decided.ID),
			zap.Error(err),
		)
	}

	return decided, nil
}
