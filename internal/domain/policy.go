package domain

// PolicyEffect определяет, что делать с запросом агента
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "ALLOW" // Разрешить (Live)
	EffectDeny  PolicyEffect = "DENY"  // Заблокировать

	// EffectNeedsApproval — флаг Human-in-the-loop: действие выполняется
	// только после ручного подтверждения оператором (HITL)
	EffectNeedsApproval PolicyEffect = "NEEDS_APPROVAL"
)

// IsValid проверяет, что эффект — одно из трех известных значений.
func (e PolicyEffect) IsValid() bool {
	switch e {
	case EffectAllow, EffectDeny, EffectNeedsApproval:
		return true
	}
	return false
}

// PolicyRule — правило безопасности для пары Agent + Action.
// Conditions хранит пороги и точные значения: числовой порог трактуется
// как "context[field] >= threshold", нечисловой — как точное равенство.
// Для читаемости числовые поля рекомендуется называть min_<field>.
type PolicyRule struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`  // "*" для всех агентов
	Action     string         `json:"action"` // "*" для всех действий
	Conditions map[string]any `json:"conditions,omitempty"`
	Effect     PolicyEffect   `json:"effect"`
	Priority   int            `json:"priority"` // 0..1000, выше — важнее
	Reason     string         `json:"reason"`   // обязательное объяснение для аудита
}

// Budget — жесткий потолок ресурсов для пары Agent + Action.
// Отсутствие записи означает "без лимита"; нулевое измерение внутри
// записи также не ограничивается (лимитировать можно выборочно).
type Budget struct {
	MaxDurationMs int64 `json:"max_duration_ms"`
	MaxOps        int64 `json:"max_ops"`
	MaxCostCents  int64 `json:"max_cost_cents"`
}

// BudgetKey — единый формат ключа бюджета в снапшоте и в БД.
func BudgetKey(agent, action string) string {
	return agent + ":" + action
}

// Зарезервированные поля контекста с оценками стоимости вызова.
// Шлюз сверяет их с Budget до исполнения.
const (
	CtxEstimatedOps        = "estimated_ops"
	CtxEstimatedCostCents  = "estimated_cost_cents"
	CtxEstimatedDurationMs = "estimated_duration_ms"
)

// Decision — результат вычисления политики. Значение неизменяемо и
// создается заново на каждый вызов: кэшировать его через перезагрузку
// снапшота нельзя.
type Decision struct {
	Effect PolicyEffect `json:"effect"`
	// MatchedRuleID == nil означает дефолтное решение: ни одно правило не совпало
	MatchedRuleID *string `json:"matched_rule_id"`
	Reason        string  `json:"reason"`
	BudgetOK      bool    `json:"budget_ok"`
}
