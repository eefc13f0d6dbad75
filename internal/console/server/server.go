package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentgate/internal/console/handler"
	"github.com/xela07ax/agentgate/internal/infra/auth"
	"go.uber.org/zap"
)

// ConsoleServer — HTTP-поверхность для операторов: управление набором
// правил, очередь заявок HITL и журнал аудита.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка RS256 токенов операторов
	authValidator auth.TokenValidator

	ruleHandler     *handler.RuleHandler     // /v1/rules
	approvalHandler *handler.ApprovalHandler // /v1/approvals (HITL)
	auditHandler    *handler.AuditHandler    // /v1/audit

	healthCheck func() error
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями.
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	ruleH *handler.RuleHandler,
	approvalH *handler.ApprovalHandler,
	auditH *handler.AuditHandler,
	healthCheck func() error,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		authValidator:   validator,
		ruleHandler:     ruleH,
		approvalHandler: approvalH,
		auditHandler:    auditH,
		healthCheck:     healthCheck,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// Глобальные инфраструктурные middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Публичные роуты
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.healthCheck != nil {
			if err := s.healthCheck(); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// Защищенный периметр: RS256 токен обязателен
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Набор правил меняется только целиком
		r.Route("/v1/rules", func(r chi.Router) {
			r.Get("/", s.ruleHandler.List)
			r.Put("/", s.ruleHandler.Replace)
		})

		// Human-in-the-loop
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List)
			r.Post("/", s.approvalHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject + Redis Publish
			})
		})

		// Аудит
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler.
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
