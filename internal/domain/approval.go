package domain

import (
	"errors"
	"time"
)

// Статусы State Machine заявки на подтверждение.
// Переходы только вперед: PENDING -> APPROVED|REJECTED -> EXECUTED,
// либо PENDING -> EXPIRED. Каждый терминальный переход случается не более
// одного раза.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
	StatusExecuted ApprovalStatus = "EXECUTED"
	StatusExpired  ApprovalStatus = "EXPIRED"
)

// ApprovalDecision — вердикт оператора в каноническом (подписываемом) виде.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// Status переводит вердикт в статус заявки.
func (d ApprovalDecision) Status() ApprovalStatus {
	if d == DecisionApproved {
		return StatusApproved
	}
	return StatusRejected
}

var (
	ErrApprovalNotFound         = errors.New("approval not found")
	ErrApprovalExpired          = errors.New("approval expired")
	ErrApprovalAlreadyDecided   = errors.New("approval already decided")
	ErrApprovalInvalidSignature = errors.New("approval signature mismatch")
	ErrApprovalNotApproved      = errors.New("approval is not in approved status")
	ErrInvalidTTL               = errors.New("approval ttl must be positive")
	ErrInvalidDecision          = errors.New("decision must be approved or rejected")
)

// Approval — подписанное, ограниченное по времени разрешение человека
// на одно конкретное действие агента.
type Approval struct {
	ID      string         `json:"id"`
	Agent   string         `json:"agent"`
	Action  string         `json:"action"`
	Context map[string]any `json:"context,omitempty"` // хранится как есть, для аудита
	Reason  string         `json:"reason"`
	Status  ApprovalStatus `json:"status"`

	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	Decision  *ApprovalDecision `json:"decision,omitempty"`
	Approver  *string           `json:"approver,omitempty"`
	Signature *string           `json:"signature,omitempty"` // hex HMAC-SHA256
	Comment   *string           `json:"comment,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpiredAt — ленивая проверка истечения. Никто не переводит запись в
// EXPIRED активно; каждая точка верификации сравнивает now с expires_at
// самостоятельно.
func (a *Approval) IsExpiredAt(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// EffectiveStatus возвращает статус с учетом ленивого истечения: заявка,
// чье время вышло, считается EXPIRED, даже если в хранилище все еще
// PENDING или APPROVED.
func (a *Approval) EffectiveStatus(now time.Time) ApprovalStatus {
	if (a.Status == StatusPending || a.Status == StatusApproved) && a.IsExpiredAt(now) {
		return StatusExpired
	}
	return a.Status
}

// CanTransitionTo проверяет правила конечного автомата.
func (a *Approval) CanTransitionTo(next ApprovalStatus) error {
	switch next {
	case StatusApproved, StatusRejected:
		if a.Status != StatusPending {
			return ErrApprovalAlreadyDecided
		}
	case StatusExecuted:
		if a.Status != StatusApproved {
			return ErrApprovalNotApproved
		}
	default:
		return errors.New("invalid approval status transition")
	}
	return nil
}
