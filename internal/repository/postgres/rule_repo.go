package postgres

/*
Файл rule_repo.go — персистентный слой для правил политики и бюджетов.

Шлюз читает набор только при warm-up и по сигналу из Redis; консоль
заменяет его целиком в одной транзакции. Частичных апдейтов нет:
полуобновленный набор правил хуже старого.
*/

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/agentgate/internal/domain"
)

// LoadRules читает полный набор правил для сборки снапшота.
func (r *Repo) LoadRules(ctx context.Context) ([]domain.PolicyRule, error) {
	query := `SELECT id, agent, action, conditions, effect, priority, reason
	          FROM policy_rules ORDER BY priority DESC, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query policy rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var condJSON []byte
		if err := rows.Scan(&rule.ID, &rule.Agent, &rule.Action, &condJSON,
			&rule.Effect, &rule.Priority, &rule.Reason); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy rule: %w", err)
		}
		if len(condJSON) > 0 {
			if err := json.Unmarshal(condJSON, &rule.Conditions); err != nil {
				return nil, fmt.Errorf("postgres: rule %s: unmarshal conditions: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return rules, nil
}

// LoadBudgets читает таблицу бюджетов, ключ — agent:action.
func (r *Repo) LoadBudgets(ctx context.Context) (map[string]domain.Budget, error) {
	query := `SELECT agent, action, max_duration_ms, max_ops, max_cost_cents FROM budgets`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query budgets: %w", err)
	}
	defer rows.Close()

	budgets := make(map[string]domain.Budget)
	for rows.Next() {
		var agent, action string
		var b domain.Budget
		if err := rows.Scan(&agent, &action, &b.MaxDurationMs, &b.MaxOps, &b.MaxCostCents); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan budget: %w", err)
		}
		budgets[domain.BudgetKey(agent, action)] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return budgets, nil
}

// ReplaceRuleSet заменяет набор правил и бюджетов целиком в одной
// транзакции. Вызывается консолью после валидации снапшота в памяти.
func (r *Repo) ReplaceRuleSet(ctx context.Context, rules []domain.PolicyRule, budgets map[string]domain.Budget) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin rule replace tx: %w", err)
	}
	// Rollback после Commit — no-op
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM policy_rules`); err != nil {
		return fmt.Errorf("postgres: clear policy rules: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM budgets`); err != nil {
		return fmt.Errorf("postgres: clear budgets: %w", err)
	}

	for _, rule := range rules {
		condJSON, err := json.Marshal(rule.Conditions)
		if err != nil {
			return fmt.Errorf("postgres: rule %s: marshal conditions: %w", rule.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO policy_rules (id, agent, action, conditions, effect, priority, reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rule.ID, rule.Agent, rule.Action, condJSON, rule.Effect, rule.Priority, rule.Reason,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert rule %s: %w", rule.ID, err)
		}
	}

	for key, b := range budgets {
		agent, action, ok := splitBudgetKey(key)
		if !ok {
			return fmt.Errorf("postgres: malformed budget key %q", key)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO budgets (agent, action, max_duration_ms, max_ops, max_cost_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			agent, action, b.MaxDurationMs, b.MaxOps, b.MaxCostCents,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert budget %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit rule replace tx: %w", err)
	}
	return nil
}

// splitBudgetKey — обратная операция к domain.BudgetKey.
// Agent не содержит ":", поэтому режем по первому вхождению.
func splitBudgetKey(key string) (agent, action string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
