package approval

/*
Файл service.go реализует жизненный цикл заявок Human-in-the-loop:
создание, решение оператора с проверкой подписи, одноразовое списание
при исполнении. Хранилище разделяемое и конкурентное, поэтому оба
перехода статуса — атомарные conditional update в репозитории
(WHERE status = ...): из двух гонящихся вызовов ровно один выигрывает.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentgate/internal/domain"
	"go.uber.org/zap"
)

// Repository — требования сервиса к хранилищу заявок.
type Repository interface {
	CreateApproval(ctx context.Context, app *domain.Approval) error
	GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error)
	FindApprovals(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error)

	// DecideApproval атомарно переводит PENDING -> APPROVED|REJECTED.
	// Для гонки проигравший получает domain.ErrApprovalAlreadyDecided.
	DecideApproval(ctx context.Context, id string, decision domain.ApprovalDecision, approver, comment, signature string) (*domain.Approval, error)

	// MarkExecuted атомарно переводит APPROVED -> EXECUTED.
	// Любой другой исходный статус — domain.ErrApprovalNotApproved.
	MarkExecuted(ctx context.Context, id string) (*domain.Approval, error)
}

type Service struct {
	repo       Repository
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time // подменяется в тестах
	logger     *zap.Logger
}

func NewService(repo Repository, secret []byte, defaultTTL time.Duration, logger *zap.Logger) *Service {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour // короткие дефолты уже приносили боль на проде
	}
	return &Service{
		repo:       repo,
		secret:     secret,
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     logger.Named("approvals"),
	}
}

// Request создает PENDING-заявку. ttl <= 0 заменяется дефолтом сервиса;
// отрицательный ttl — ошибка вызывающего.
func (s *Service) Request(ctx context.Context, agent, action string, reqCtx map[string]any, reason string, ttl time.Duration) (*domain.Approval, error) {
	if ttl < 0 {
		return nil, domain.ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	app := &domain.Approval{
		ID:          uuid.New().String(),
		Agent:       agent,
		Action:      action,
		Context:     reqCtx,
		Reason:      reason,
		Status:      domain.StatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}

	if err := s.repo.CreateApproval(ctx, app); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	s.logger.Info("approval requested",
		zap.String("id", app.ID),
		zap.String("agent", agent),
		zap.String("action", action),
		zap.Time("expires_at", app.ExpiresAt),
	)
	return app, nil
}

// Get возвращает заявку по id (для UI и pre-guardrails).
func (s *Service) Get(ctx context.Context, id string) (*domain.Approval, error) {
	return s.repo.GetApprovalByID(ctx, id)
}

// List — очередь заявок для консоли с фильтрами.
func (s *Service) List(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error) {
	return s.repo.FindApprovals(ctx, status, agent)
}

// SignDecision строит подпись вердикта от имени оператора. Используется
// консолью после аутентификации оператора; внешние интеграции могут
// приносить подпись, посчитанную у себя тем же каноническим сообщением.
func (s *Service) SignDecision(app *domain.Approval, decision domain.ApprovalDecision, approver string) string {
	return Sign(s.secret, app.ID, decision, approver, app.ExpiresAt)
}

// Decide проверяет и фиксирует вердикт оператора.
// Порядок проверок фиксирован: not found -> expired -> already decided ->
// signature. Истечение сверяется с часами на момент вызова, независимо
// от хранимого статуса.
func (s *Service) Decide(ctx context.Context, id string, decision domain.ApprovalDecision, approver, signature, comment string) (*domain.Approval, error) {
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return nil, domain.ErrInvalidDecision
	}

	app, err := s.repo.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if app.IsExpiredAt(s.now()) {
		return nil, domain.ErrApprovalExpired
	}
	if app.Status != domain.StatusPending {
		return nil, domain.ErrApprovalAlreadyDecided
	}

	// Подпись считается по expires_at самой заявки, не по данным запроса
	if !VerifySignature(s.secret, app.ID, decision, approver, app.ExpiresAt, signature) {
		s.logger.Warn("approval signature rejected",
			zap.String("id", id),
			zap.String("approver", approver),
		)
		return nil, domain.ErrApprovalInvalidSignature
	}

	decided, err := s.repo.DecideApproval(ctx, id, decision, approver, comment, signature)
	if err != nil {
		return nil, err
	}

	s.logger.Info("approval decided",
		zap.String("id", id),
		zap.String("decision", string(decision)),
		zap.String("approver", approver),
	)
	return decided, nil
}

// MarkExecuted списывает APPROVED-заявку ровно один раз. Повторный вызов —
// ошибка, а не no-op: это сигнал о возможном двойном исполнении выше по
// стеку, и его нельзя глотать.
func (s *Service) MarkExecuted(ctx context.Context, id string) (*domain.Approval, error) {
	app, err := s.repo.GetApprovalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status == domain.StatusApproved && app.IsExpiredAt(s.now()) {
		return nil, domain.ErrApprovalExpired
	}

	executed, err := s.repo.MarkExecuted(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("approval consumed", zap.String("id", id))
	return executed, nil
}
