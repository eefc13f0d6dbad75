package audit

import (
	"time"

	"github.com/xela07ax/agentgate/internal/domain"
)

// Статусы исхода для поля Event.Status.
const (
	StatusDenied          = "DENIED"           // политика запретила, хендлер не вызывался
	StatusBlocked         = "BLOCKED"          // pre-guardrail остановил вызов
	StatusPendingApproval = "PENDING_APPROVAL" // ждет вердикта оператора, хендлер не вызывался
	StatusSuccess         = "SUCCESS"
	StatusFailed          = "FAILED" // хендлер вернул ошибку
)

// Event — одна запись Audit Trail: кто, что, по какому правилу и чем
// закончилось.
type Event struct {
	ID      string         `json:"id"`       // UUID события
	TraceID string         `json:"trace_id"` // Сквозной ID запроса
	AgentID string         `json:"agent_id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"` // Параметры действия

	// Контекст решения
	Mode       string `json:"mode"`    // strict / permissive / disabled
	Effect     string `json:"effect"`  // Эффект решения политики
	RuleID     string `json:"rule_id"` // Какое правило сработало ("" — дефолт)
	ApprovalID string `json:"approval_id,omitempty"`

	// Результат
	Status     string                      `json:"status"`
	Violations []domain.GuardrailViolation `json:"violations,omitempty"`
	Response   any                         `json:"response,omitempty"`
	Error      string                      `json:"error,omitempty"`
	Timestamp  time.Time                   `json:"timestamp"`
	DurationMs int64                       `json:"duration_ms"`
}
