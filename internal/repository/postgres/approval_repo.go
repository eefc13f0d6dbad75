package postgres

/*
Файл approval_repo.go — хранилище заявок Human-in-the-loop.

Оба перехода статуса — атомарные conditional update:
UPDATE ... WHERE status = 'PENDING' / 'APPROVED'. Из двух конкурентных
вызовов ровно один меняет строку; проигравший получает доменную ошибку,
а не теряет чужое обновление.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agentgate/internal/domain"
)

const approvalColumns = `id, agent, action, context, reason, status,
	requested_at, expires_at, decision, approver, signature, comment, updated_at`

// CreateApproval создает PENDING-запись: выполнение в шлюзе
// приостановлено до вердикта оператора в Console API.
func (r *Repo) CreateApproval(ctx context.Context, app *domain.Approval) error {
	ctxJSON, err := json.Marshal(app.Context)
	if err != nil {
		return fmt.Errorf("postgres: marshal approval context: %w", err)
	}

	query := `INSERT INTO approvals (id, agent, action, context, reason, status, requested_at, expires_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.pool.Exec(ctx, query,
		app.ID, app.Agent, app.Action, ctxJSON, app.Reason, app.Status,
		app.RequestedAt, app.ExpiresAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// GetApprovalByID — получение деталей заявки для анализа.
func (r *Repo) GetApprovalByID(ctx context.Context, id string) (*domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	app, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("postgres: get approval: %w", err)
	}
	return app, nil
}

// FindApprovals — выборка очереди заявок (Decision Queue) с фильтрами.
func (r *Repo) FindApprovals(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`

	var args []any
	var where []string
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if agent != "" {
		args = append(args, agent)
		where = append(where, fmt.Sprintf("agent = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY requested_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Approval, 0)
	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
		}
		results = append(results, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

// DecideApproval атомарно фиксирует вердикт. Условие status = 'PENDING'
// исключает Double Decision; RETURNING отдает обновленную строку за один
// проход, без предварительного SELECT.
func (r *Repo) DecideApproval(ctx context.Context, id string, decision domain.ApprovalDecision, approver, comment, signature string) (*domain.Approval, error) {
	query := `
		UPDATE approvals
		SET status = $1,
		    decision = $2,
		    approver = $3,
		    comment = $4,
		    signature = $5,
		    updated_at = NOW()
		WHERE id = $6 AND status = 'PENDING'
		RETURNING ` + approvalColumns

	app, err := scanApproval(r.pool.QueryRow(ctx, query,
		decision.Status(), decision, approver, comment, signature, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо id неверный, либо (что чаще) решение уже принято
			return nil, r.classifyMissedUpdate(ctx, id, domain.ErrApprovalAlreadyDecided)
		}
		return nil, fmt.Errorf("postgres: failed to decide approval: %w", err)
	}
	return app, nil
}

// MarkExecuted атомарно списывает заявку: APPROVED -> EXECUTED.
// Повторный вызов не проходит условие и возвращает ErrApprovalNotApproved —
// сигнал о возможном двойном исполнении.
func (r *Repo) MarkExecuted(ctx context.Context, id string) (*domain.Approval, error) {
	query := `
		UPDATE approvals
		SET status = 'EXECUTED', updated_at = NOW()
		WHERE id = $1 AND status = 'APPROVED'
		RETURNING ` + approvalColumns

	app, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissedUpdate(ctx, id, domain.ErrApprovalNotApproved)
		}
		return nil, fmt.Errorf("postgres: failed to mark approval executed: %w", err)
	}
	return app, nil
}

// classifyMissedUpdate различает "строки нет" и "строка в другом статусе".
func (r *Repo) classifyMissedUpdate(ctx context.Context, id string, statusErr error) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM approvals WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrApprovalNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: classify approval state: %w", err)
	}
	return statusErr
}

// rowScanner покрывает и pgx.Row, и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*domain.Approval, error) {
	var app domain.Approval
	var ctxJSON []byte
	var decision, approver, signature, comment sql.NullString

	err := row.Scan(
		&app.ID,
		&app.Agent,
		&app.Action,
		&ctxJSON,
		&app.Reason,
		&app.Status,
		&app.RequestedAt,
		&app.ExpiresAt,
		&decision,
		&approver,
		&signature,
		&comment,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &app.Context); err != nil {
			return nil, fmt.Errorf("unmarshal approval context: %w", err)
		}
	}

	// Маппим NULL значения в указатели
	if decision.Valid {
		val := domain.ApprovalDecision(decision.String)
		app.Decision = &val
	}
	if approver.Valid {
		val := approver.String
		app.Approver = &val
	}
	if signature.Valid {
		val := signature.String
		app.Signature = &val
	}
	if comment.Valid {
		val := comment.String
		app.Comment = &val
	}

	return &app, nil
}
