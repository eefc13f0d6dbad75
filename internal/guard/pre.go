package guard

/*
Файл pre.go — guardrails до исполнения. Любое срабатывание фатально для
вызова: хендлер не вызывается, побочных эффектов нет, вызывающий может
исправить вход и повторить.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agentgate/internal/domain"
)

// ApprovalReader — доступ pre-guardrails к заявкам HITL.
type ApprovalReader interface {
	Get(ctx context.Context, id string) (*domain.Approval, error)
}

type PreGuard struct {
	registry  *Registry
	approvals ApprovalReader
	now       func() time.Time
}

func NewPreGuard(registry *Registry, approvals ApprovalReader) *PreGuard {
	return &PreGuard{
		registry:  registry,
		approvals: approvals,
		now:       time.Now,
	}
}

// WithClock подменяет часы (для тестов истечения).
func (g *PreGuard) WithClock(now func() time.Time) *PreGuard {
	g.now = now
	return g
}

// Validate прогоняет план через жесткие проверки:
//  1. решение политики (DENY -> policy_denied);
//  2. для NEEDS_APPROVAL — наличие и валидность заявки: статус APPROVED,
//     не истекла, agent/action совпадают с вызовом точно;
//  3. обязательные параметры действия из реестра — в context или params.
//
// Возвращает первое срабатывание; error — для инфраструктурных отказов и
// неизвестного действия.
func (g *PreGuard) Validate(ctx context.Context, plan *domain.ExecutionPlan, dec domain.Decision) (*domain.GuardrailViolation, error) {
	if dec.Effect == domain.EffectDeny {
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationPolicyDenied,
			Message: dec.Reason,
		}, nil
	}

	if dec.Effect == domain.EffectNeedsApproval {
		if v, err := g.checkApproval(ctx, plan); v != nil || err != nil {
			return v, err
		}
	}

	spec, err := g.registry.Spec(plan.Action)
	if err != nil {
		return nil, err
	}
	for _, field := range spec.RequiredParams {
		if _, ok := plan.Context[field]; ok {
			continue
		}
		if _, ok := plan.Params[field]; ok {
			continue
		}
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationMissingParameter,
			Message: fmt.Sprintf("required parameter %q is missing", field),
			Field:   field,
		}, nil
	}

	return nil, nil
}

func (g *PreGuard) checkApproval(ctx context.Context, plan *domain.ExecutionPlan) (*domain.GuardrailViolation, error) {
	if plan.ApprovalID == "" {
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationApprovalRequired,
			Message: "action requires human approval: approval_id is not set",
		}, nil
	}

	app, err := g.approvals.Get(ctx, plan.ApprovalID)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return &domain.GuardrailViolation{
				Kind:    domain.ViolationApprovalInvalid,
				Message: fmt.Sprintf("approval %s not found", plan.ApprovalID),
			}, nil
		}
		return nil, fmt.Errorf("approval lookup: %w", err)
	}

	switch app.EffectiveStatus(g.now()) {
	case domain.StatusApproved:
		// ок, проверяем привязку ниже
	case domain.StatusPending:
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationApprovalRequired,
			Message: fmt.Sprintf("approval %s is not decided yet", app.ID),
		}, nil
	case domain.StatusExpired:
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationApprovalInvalid,
			Message: fmt.Sprintf("approval %s expired at %s", app.ID, app.ExpiresAt.UTC().Format(time.RFC3339)),
		}, nil
	default: // REJECTED, EXECUTED
		return &domain.GuardrailViolation{
			Kind:    domain.ViolationApprovalInvalid,
			Message: fmt.Sprintf("approval %s has status %s", app.ID, app.Status),
		}, nil
	}

	// Заявка одобряет ровно одну пару agent+action
	if app.Agent != plan.Agent || app.Action != plan.Action {
		return &domain.GuardrailViolation{
			Kind: domain.ViolationApprovalInvalid,
			Message: fmt.Sprintf("approval %s is bound to %s/%s, not %s/%s",
				app.ID, app.Agent, app.Action, plan.Agent, plan.Action),
		}, nil
	}

	return nil, nil
}
