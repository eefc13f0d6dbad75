package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/infra/auth"
)

// ApprovalService описывает, что хендлеру нужно от сервиса.
type ApprovalService interface {
	Request(ctx context.Context, agent, action string, reqCtx map[string]any, reason string, ttl time.Duration) (*domain.Approval, error)
	Get(ctx context.Context, id string) (*domain.Approval, error)
	List(ctx context.Context, status domain.ApprovalStatus, agent string) ([]*domain.Approval, error)
	Decide(ctx context.Context, id string, decision domain.ApprovalDecision, approver, signature, comment string) (*domain.Approval, error)
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

type createApprovalRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Context    map[string]any `json:"context,omitempty"`
	Reason     string         `json:"reason"`
	TTLSeconds int64          `json:"ttl_seconds,omitempty"`
}

func (h *ApprovalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Agent == "" || req.Action == "" {
		http.Error(w, "agent and action are required", http.StatusBadRequest)
		return
	}

	app, err := h.service.Request(r.Context(), req.Agent, req.Action, req.Context,
		req.Reason, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTTL) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(app)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	app, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(app)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status") // ?status=PENDING&agent=...
	if status == "" {
		status = string(domain.StatusPending) // Дефолт для очереди в админке
	}
	agent := r.URL.Query().Get("agent")

	list, err := h.service.List(r.Context(), domain.ApprovalStatus(status), agent)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type decideRequest struct {
	Decision  string `json:"decision"` // approved | rejected
	Comment   string `json:"comment,omitempty"`
	Signature string `json:"signature,omitempty"` // пусто — консоль подпишет сама
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Approver — всегда аутентифицированный оператор, не поле запроса
	approver, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "operator identity is required", http.StatusUnauthorized)
		return
	}

	app, err := h.service.Decide(r.Context(), id,
		domain.ApprovalDecision(req.Decision), approver, req.Signature, req.Comment)
	if err != nil {
		http.Error(w, err.Error(), decideStatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(app)
}

func decideStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrApprovalNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrApprovalExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrApprovalAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, domain.ErrApprovalInvalidSignature):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
