package service

import (
	"context"

	"github.com/xela07ax/agentgate/internal/repository/postgres"
)

// AuditRepository описывает требования сервиса к журналу.
type AuditRepository interface {
	FetchLogs(ctx context.Context, filter postgres.AuditFilter) ([]postgres.AuditRecord, error)
}

type AuditService struct {
	repo AuditRepository
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// GetLogs возвращает последние записи журнала с фильтрами.
func (s *AuditService) GetLogs(ctx context.Context, filter postgres.AuditFilter) ([]postgres.AuditRecord, error) {
	return s.repo.FetchLogs(ctx, filter)
}
