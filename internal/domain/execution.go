package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownAction — действие не зарегистрировано в реестре.
// Неизвестное действие — это явная ошибка вызова, а не "ничего не совпало".
var ErrUnknownAction = errors.New("unknown action")

// ExecutionPlan — запрос на исполнение действия. Принадлежит вызывающему
// до передачи в Executor; шлюз не хранит план дольше одного исполнения.
type ExecutionPlan struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Context    map[string]any `json:"context,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
}

// ViolationKind — классификация срабатываний guardrails.
type ViolationKind string

const (
	ViolationPolicyDenied     ViolationKind = "policy_denied"
	ViolationApprovalRequired ViolationKind = "approval_required"
	ViolationApprovalInvalid  ViolationKind = "approval_invalid"
	ViolationMissingParameter ViolationKind = "missing_parameter"
	ViolationResultShape      ViolationKind = "result_shape"
	ViolationMetricInvalid    ViolationKind = "metric_invalid"
)

// GuardrailViolation — срабатывание валидатора. До исполнения — фатально
// для вызова (реализует error); после исполнения — только предупреждение
// в ответе, действие не откатывается.
type GuardrailViolation struct {
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
	Field   string        `json:"field,omitempty"`
}

func (v *GuardrailViolation) Error() string {
	if v.Field != "" {
		return fmt.Sprintf("guardrail %s (%s): %s", v.Kind, v.Field, v.Message)
	}
	return fmt.Sprintf("guardrail %s: %s", v.Kind, v.Message)
}

// ExecutionError — отказ самого хендлера. Отделен от guardrails, чтобы
// мониторинг различал "мы отказались исполнять" и "исполнили, но упало".
type ExecutionError struct {
	Action string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed: %v", e.Action, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ExecResult — итог исполнения. Violations после исполнения — только
// предупреждения; Result возвращается без изменений.
type ExecResult struct {
	Effect     PolicyEffect         `json:"effect"`
	Result     map[string]any       `json:"result,omitempty"`
	Violations []GuardrailViolation `json:"violations"`
}
