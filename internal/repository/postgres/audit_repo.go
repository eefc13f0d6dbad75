package postgres

/*
Файл audit_repo.go — запись и выдача Audit Trail.

WriteBatch вызывается только фоновым воркером AgentFS: пачка событий
уходит одним multi-row INSERT вместо N запросов.
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/agentgate/internal/audit"
)

const auditInsertColumns = 14

// WriteBatch пишет пачку событий одним запросом.
func (r *Repo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs
		(id, trace_id, agent_id, action, payload, mode, effect, rule_id,
		 approval_id, status, violations, error, duration_ms, created_at) VALUES `)

	args := make([]any, 0, len(events)*auditInsertColumns)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		// Генерируем ($1, $2, ... $13), ($14, ...) по числу событий
		sb.WriteString("(")
		for j := 0; j < auditInsertColumns; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*auditInsertColumns+j+1)
		}
		sb.WriteString(")")

		payloadJSON, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("postgres: audit event %s: marshal payload: %w", e.ID, err)
		}
		violationsJSON, err := json.Marshal(e.Violations)
		if err != nil {
			return fmt.Errorf("postgres: audit event %s: marshal violations: %w", e.ID, err)
		}

		args = append(args,
			e.ID, e.TraceID, e.AgentID, e.Action, payloadJSON,
			e.Mode, e.Effect, e.RuleID, e.ApprovalID, e.Status,
			violationsJSON, e.Error, e.DurationMs, e.Timestamp,
		)
	}

	if _, err := r.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

// AuditFilter — фильтры выборки журнала для консоли.
type AuditFilter struct {
	Agent  string
	Action string
	Status string
	Limit  int
}

// AuditRecord — строка журнала в том виде, в котором ее отдает консоль.
type AuditRecord struct {
	ID         string          `json:"id"`
	TraceID    string          `json:"trace_id"`
	AgentID    string          `json:"agent_id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Mode       string          `json:"mode"`
	Effect     string          `json:"effect"`
	RuleID     string          `json:"rule_id,omitempty"`
	ApprovalID string          `json:"approval_id,omitempty"`
	Status     string          `json:"status"`
	Violations json.RawMessage `json:"violations,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	CreatedAt  string          `json:"created_at"`
}

// FetchLogs возвращает последние записи журнала с фильтрами.
func (r *Repo) FetchLogs(ctx context.Context, filter AuditFilter) ([]AuditRecord, error) {
	query := `SELECT id, trace_id, agent_id, action, payload, mode, effect,
	          rule_id, approval_id, status, violations, error, duration_ms,
	          to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
	          FROM audit_logs`

	var args []any
	var where []string
	if filter.Agent != "" {
		args = append(args, filter.Agent)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit logs: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0)
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.AgentID, &rec.Action,
			&rec.Payload, &rec.Mode, &rec.Effect, &rec.RuleID, &rec.ApprovalID,
			&rec.Status, &rec.Violations, &rec.Error, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return records, nil
}
