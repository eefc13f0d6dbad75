package policy

/*
Файл engine.go — Policy Decision Point. Decide — чистая функция от
(снапшот, agent, action, context): никакого I/O и состояния, безопасна
для любого числа конкурентных вызовов и детерминирована для одинаковых
входов.
*/

import (
	"fmt"
	"reflect"

	"github.com/xela07ax/agentgate/internal/domain"
)

// Engine связывает вычисление решения с текущим снапшотом стора.
type Engine struct {
	store *Store
}

func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Decide вычисляет решение на текущем снапшоте.
func (e *Engine) Decide(agent, action string, ctx map[string]any) domain.Decision {
	return Evaluate(e.store.Current(), agent, action, ctx)
}

// Evaluate — само вычисление, отдельной функцией для тестов и симуляций.
//
// Алгоритм:
//  1. Кандидаты: agent и action правила совпадают точно или равны "*".
//  2. Все условия правила обязаны совпасть (AND). Отсутствующее в контексте
//     поле исключает правило, а не совпадает по умолчанию.
//  3. Из совпавших побеждает правило с наибольшим приоритетом; ничьи
//     разрешаются детерминированно (см. betterRule).
//  4. Без совпадений — дефолтный эффект снапшота, matched_rule_id = null.
//  5. Бюджет — жесткий потолок поверх любого исхода правил: превышение
//     любой оценки дает DENY с budget_ok=false.
func Evaluate(snap *Snapshot, agent, action string, ctx map[string]any) domain.Decision {
	var best *domain.PolicyRule
	for i := range snap.rules {
		r := &snap.rules[i]
		if !selectorMatch(r.Agent, agent) || !selectorMatch(r.Action, action) {
			continue
		}
		if !conditionsMatch(r.Conditions, ctx) {
			continue
		}
		if best == nil || betterRule(best, r) {
			best = r
		}
	}

	dec := domain.Decision{
		Effect:   snap.defaultEffect,
		Reason:   "default",
		BudgetOK: true,
	}
	if best != nil {
		id := best.ID
		dec.Effect = best.Effect
		dec.MatchedRuleID = &id
		dec.Reason = best.Reason
	}

	if dim, ok := budgetExceeded(snap, agent, action, ctx); ok {
		dec.Effect = domain.EffectDeny
		dec.BudgetOK = false
		dec.Reason = fmt.Sprintf("budget exceeded: %s", dim)
	}

	return dec
}

func selectorMatch(selector, value string) bool {
	return selector == "*" || selector == value
}

// conditionsMatch проверяет все условия правила по контексту.
// Числовое значение контекста сравнивается с порогом как ">="
// (исторические семантики порогов сохранены намеренно); нечисловое —
// на точное равенство.
func conditionsMatch(conds map[string]any, ctx map[string]any) bool {
	for field, want := range conds {
		got, present := ctx[field]
		if !present {
			return false
		}

		gotNum, gotIsNum := asFloat(got)
		wantNum, wantIsNum := asFloat(want)
		if gotIsNum && wantIsNum {
			if gotNum < wantNum {
				return false
			}
			continue
		}

		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// betterRule отвечает, должен ли кандидат cand вытеснить текущего
// победителя cur. Полный детерминированный
// порядок: приоритет, затем специфичность (точный селектор важнее "*"),
// затем fail-closed предпочтение DENY > ALLOW > NEEDS_APPROVAL, затем
// лексикографически меньший id.
func betterRule(cur, cand *domain.PolicyRule) bool {
	if cur.Priority != cand.Priority {
		return cand.Priority > cur.Priority
	}
	if sc, sn := specificity(cur), specificity(cand); sc != sn {
		return sn > sc
	}
	if rc, rn := effectRank(cur.Effect), effectRank(cand.Effect); rc != rn {
		return rn > rc
	}
	return cand.ID < cur.ID
}

func specificity(r *domain.PolicyRule) int {
	n := 0
	if r.Agent != "*" {
		n++
	}
	if r.Action != "*" {
		n++
	}
	return n
}

func effectRank(e domain.PolicyEffect) int {
	switch e {
	case domain.EffectDeny:
		return 3
	case domain.EffectAllow:
		return 2
	default: // NEEDS_APPROVAL
		return 1
	}
}

// budgetExceeded сверяет оценки из контекста с бюджетом пары agent+action.
// Возвращает имя превышенного измерения.
func budgetExceeded(snap *Snapshot, agent, action string, ctx map[string]any) (string, bool) {
	budget, ok := snap.Budget(agent, action)
	if !ok {
		return "", false
	}

	checks := []struct {
		ctxKey string
		limit  int64
		name   string
	}{
		{domain.CtxEstimatedOps, budget.MaxOps, "max_ops"},
		{domain.CtxEstimatedCostCents, budget.MaxCostCents, "max_cost_cents"},
		{domain.CtxEstimatedDurationMs, budget.MaxDurationMs, "max_duration_ms"},
	}
	for _, c := range checks {
		if c.limit <= 0 {
			continue // нулевое измерение — без лимита
		}
		raw, present := ctx[c.ctxKey]
		if !present {
			continue
		}
		est, isNum := asFloat(raw)
		if isNum && est > float64(c.limit) {
			return c.name, true
		}
	}
	return "", false
}

// asFloat приводит числовые типы к float64. В JSON числа всегда парсятся
// в float64, но правила и тесты могут оперировать int.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
