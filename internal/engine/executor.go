package engine

/*
Файл executor.go — ядро шлюза. Линейная машина состояний без возвратов:

  start -> policy_checked -> pre_guardrails_checked -> handler_invoked
        -> post_guardrails_checked -> done

с ранними терминалами denied (после политики) и blocked (после
pre-guardrails), которые никогда не доходят до вызова хендлера.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgate/internal/audit"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/guard"
	"github.com/xela07ax/agentgate/internal/policy"
)

// EnforcementMode — режим контура на процесс.
type EnforcementMode string

const (
	ModeStrict     EnforcementMode = "strict"     // все проверки блокирующие
	ModePermissive EnforcementMode = "permissive" // проверки считаются и логируются, но не блокируют
	ModeDisabled   EnforcementMode = "disabled"   // контур решений выключен полностью
)

func (m EnforcementMode) IsValid() bool {
	return m == ModeStrict || m == ModePermissive || m == ModeDisabled
}

// ApprovalConsumer — единственная операция над заявками, нужная ядру.
type ApprovalConsumer interface {
	MarkExecuted(ctx context.Context, id string) (*domain.Approval, error)
}

type Core struct {
	pdp        *policy.Engine
	pre        *guard.PreGuard
	approvals  ApprovalConsumer
	executor   guard.ActionHandler // хендлер за контуром надежности
	auditor    audit.Auditor
	metrics    *Metrics
	mode       EnforcementMode
	guardrails bool
	logger     *zap.Logger
}

func NewCore(
	pdp *policy.Engine,
	pre *guard.PreGuard,
	approvals ApprovalConsumer,
	executor guard.ActionHandler,
	auditor audit.Auditor,
	metrics *Metrics,
	mode EnforcementMode,
	guardrails bool,
	logger *zap.Logger,
) *Core {
	return &Core{
		pdp:        pdp,
		pre:        pre,
		approvals:  approvals,
		executor:   executor,
		auditor:    auditor,
		metrics:    metrics,
		mode:       mode,
		guardrails: guardrails,
		logger:     logger.Named("executor"),
	}
}

// Execute проводит план через контур. Блокирующие исходы возвращают
// *domain.GuardrailViolation как error (рядом с ExecResult для тела
// ответа); отказ хендлера — *domain.ExecutionError; инфраструктурные
// отказы и неизвестное действие — обычная ошибка.
func (c *Core) Execute(ctx context.Context, plan *domain.ExecutionPlan) (*domain.ExecResult, error) {
	start := time.Now()

	event := audit.Event{
		ID:         uuid.New().String(),
		TraceID:    extractTraceID(ctx),
		AgentID:    plan.Agent,
		Action:     plan.Action,
		Payload:    plan.Params,
		ApprovalID: plan.ApprovalID,
		Mode:       string(c.mode),
		Timestamp:  start,
	}
	defer func() {
		c.metrics.RequestDuration.
			WithLabelValues(plan.Agent, plan.Action, event.Status).
			Observe(time.Since(start).Seconds())
	}()

	if c.mode == ModeDisabled {
		dec := domain.Decision{Effect: domain.EffectAllow, Reason: "engine disabled", BudgetOK: true}
		event.Effect = string(dec.Effect)
		return c.invoke(ctx, plan, dec, nil, &event, start)
	}

	// ШАГ 1: Policy Decision Point
	dec := c.pdp.Decide(plan.Agent, plan.Action, plan.Context)
	event.Effect = string(dec.Effect)
	if dec.MatchedRuleID != nil {
		event.RuleID = *dec.MatchedRuleID
	}
	c.metrics.DecisionTotal.WithLabelValues(plan.Agent, plan.Action, string(dec.Effect)).Inc()

	// Предупреждения, накопленные в permissive-режиме
	var warnings []domain.GuardrailViolation

	// ШАГ 2: pre-guardrails (включая повторную сверку решения)
	if c.guardrails {
		v, err := c.pre.Validate(ctx, plan, dec)
		if err != nil {
			event.Status = audit.StatusFailed
			event.Error = err.Error()
			c.finish(&event, start)
			return nil, err
		}
		if v != nil {
			c.metrics.ViolationTotal.WithLabelValues(string(v.Kind), "pre").Inc()
			if c.mode == ModeStrict {
				return c.block(plan, dec, v, &event, start)
			}
			c.logger.Warn("permissive mode: pre-guardrail would block",
				zap.String("kind", string(v.Kind)),
				zap.String("agent", plan.Agent),
				zap.String("action", plan.Action),
			)
			warnings = append(warnings, *v)
		}
	} else if dec.Effect == domain.EffectDeny {
		// Guardrails выключены, но запрет политики остается запретом
		v := &domain.GuardrailViolation{Kind: domain.ViolationPolicyDenied, Message: dec.Reason}
		c.metrics.ViolationTotal.WithLabelValues(string(v.Kind), "pre").Inc()
		if c.mode == ModeStrict {
			return c.block(plan, dec, v, &event, start)
		}
		c.logger.Warn("permissive mode: policy would deny",
			zap.String("agent", plan.Agent),
			zap.String("action", plan.Action),
			zap.String("reason", dec.Reason),
		)
		warnings = append(warnings, *v)
	}

	// ШАГ 3: списание заявки ДО вызова хендлера. Заявка расходуется
	// максимум один раз, даже если хендлер зависнет или упадет:
	// "апрув списан, хендлер не отработал" чинится новой заявкой,
	// "хендлер отработал дважды под одним апрувом" не чинится ничем.
	if dec.Effect == domain.EffectNeedsApproval && c.mode == ModeStrict {
		if plan.ApprovalID == "" {
			v := &domain.GuardrailViolation{
				Kind:    domain.ViolationApprovalRequired,
				Message: "action requires human approval: approval_id is not set",
			}
			c.metrics.ViolationTotal.WithLabelValues(string(v.Kind), "pre").Inc()
			return c.block(plan, dec, v, &event, start)
		}
		if _, err := c.approvals.MarkExecuted(ctx, plan.ApprovalID); err != nil {
			// Проигрыш гонки за заявку — тоже blocked, не исполняем
			v := &domain.GuardrailViolation{
				Kind:    domain.ViolationApprovalInvalid,
				Message: fmt.Sprintf("approval %s could not be consumed: %v", plan.ApprovalID, err),
			}
			c.metrics.ViolationTotal.WithLabelValues(string(v.Kind), "pre").Inc()
			return c.block(plan, dec, v, &event, start)
		}
		c.metrics.ApprovalConsumed.Inc()
	}

	return c.invoke(ctx, plan, dec, warnings, &event, start)
}

// block — ранний терминал denied/blocked: хендлер не вызывался,
// побочных эффектов нет.
func (c *Core) block(plan *domain.ExecutionPlan, dec domain.Decision, v *domain.GuardrailViolation, event *audit.Event, start time.Time) (*domain.ExecResult, error) {
	switch v.Kind {
	case domain.ViolationPolicyDenied:
		event.Status = audit.StatusDenied
	case domain.ViolationApprovalRequired:
		event.Status = audit.StatusPendingApproval
	default:
		event.Status = audit.StatusBlocked
	}
	event.Violations = []domain.GuardrailViolation{*v}
	c.finish(event, start)

	res := &domain.ExecResult{
		Effect:     dec.Effect,
		Violations: []domain.GuardrailViolation{*v},
	}
	return res, v
}

// invoke — шаги 4-5: вызов хендлера и мягкие post-проверки.
func (c *Core) invoke(ctx context.Context, plan *domain.ExecutionPlan, dec domain.Decision, warnings []domain.GuardrailViolation, event *audit.Event, start time.Time) (*domain.ExecResult, error) {
	payload, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	resp, execErr := c.executor.Call(ctx, plan.Action, payload)
	if execErr != nil {
		// Отказ хендлера — не guardrail: guardrails для этого пути
		// не консультируются, ошибка уходит наверх как есть
		event.Status = audit.StatusFailed
		event.Error = execErr.Error()
		c.finish(event, start)
		return nil, &domain.ExecutionError{Action: plan.Action, Err: execErr}
	}

	var result map[string]any
	violations := warnings
	// В disabled-режиме post-проверки не выполняются, как и все остальные
	if c.guardrails && c.mode != ModeDisabled {
		var postV []domain.GuardrailViolation
		result, postV = guard.ValidatePost(resp)
		for _, v := range postV {
			c.metrics.ViolationTotal.WithLabelValues(string(v.Kind), "post").Inc()
			c.logger.Warn("post-guardrail violation",
				zap.String("kind", string(v.Kind)),
				zap.String("field", v.Field),
				zap.String("action", plan.Action),
			)
		}
		violations = append(violations, postV...)
	} else if err := json.Unmarshal(resp, &result); err != nil {
		result = nil // ответ не JSON-объект, отдаем только статус
	}

	event.Status = audit.StatusSuccess
	event.Response = result
	event.Violations = violations
	c.finish(event, start)

	return &domain.ExecResult{
		Effect:     dec.Effect,
		Result:     result,
		Violations: violations,
	}, nil
}

// finish дописывает длительность и асинхронно сдает событие в AgentFS.
func (c *Core) finish(event *audit.Event, start time.Time) {
	event.DurationMs = time.Since(start).Milliseconds()
	c.auditor.Log(*event)
}
