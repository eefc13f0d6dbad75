package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/agentgate/internal/console/service"
)

// RuleService описывает, что хендлеру нужно от сервиса политик.
type RuleService interface {
	GetAll(ctx context.Context) (*service.RuleSet, error)
	Replace(ctx context.Context, set *service.RuleSet) error
}

type RuleHandler struct {
	service RuleService
}

func NewRuleHandler(s RuleService) *RuleHandler {
	return &RuleHandler{service: s}
}

// List отдает действующий набор правил и бюджетов.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.GetAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// Replace принимает полный набор и заменяет им действующий.
// Частичных апдейтов нет: оператор всегда публикует набор целиком,
// это исключает расхождение между правилами и бюджетами.
func (h *RuleHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var set service.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Replace(r.Context(), &set); err != nil {
		// Ошибка валидации набора — это ошибка клиента
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
