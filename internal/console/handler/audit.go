package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/agentgate/internal/console/service"
	"github.com/xela07ax/agentgate/internal/repository/postgres"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает список событий аудита с поддержкой фильтрации
// GET /v1/audit?agent_id=...&action=...&status=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := postgres.AuditFilter{
		Agent:  q.Get("agent_id"),
		Action: q.Get("action"),
		Status: q.Get("status"),
		Limit:  limit,
	}

	logs, err := h.service.GetLogs(r.Context(), filter)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
