package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/infra/auth"
)

// executeRequest — тело POST /v1/execute.
type executeRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Context    map[string]any `json:"context,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
}

// HandleExecute — HTTP-вход шлюза. Маппинг исходов:
//
//	denied/blocked         -> 403 + ExecResult с violations
//	неизвестное действие   -> 400
//	отказ хендлера         -> 502 (действие могло частично выполниться)
//	успех                  -> 200 + ExecResult (post-violations внутри)
func (c *Core) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Agent == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "agent and action are required")
		return
	}

	// Scoped-токен обязан давать право на действие (если запрос шел
	// через auth-middleware)
	if scopes, ok := auth.ScopesFromContext(r.Context()); ok {
		if !scopes[req.Action] && !scopes["*"] {
			writeError(w, http.StatusForbidden, "token does not grant permission for "+req.Action)
			return
		}
	}

	plan := &domain.ExecutionPlan{
		Agent:      req.Agent,
		Action:     req.Action,
		Context:    req.Context,
		Params:     req.Params,
		ApprovalID: req.ApprovalID,
	}

	res, err := c.Execute(r.Context(), plan)
	if err != nil {
		var violation *domain.GuardrailViolation
		var execErr *domain.ExecutionError
		switch {
		case errors.As(err, &violation):
			writeJSON(w, http.StatusForbidden, res)
		case errors.As(err, &execErr):
			writeError(w, http.StatusBadGateway, execErr.Error())
		case errors.Is(err, domain.ErrUnknownAction):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			// tip: детали внутренних ошибок наружу не отдаем
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
