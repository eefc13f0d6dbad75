package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgate/internal/approval"
	"github.com/xela07ax/agentgate/internal/audit"
	"github.com/xela07ax/agentgate/internal/connectors"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/engine"
	"github.com/xela07ax/agentgate/internal/guard"
	"github.com/xela07ax/agentgate/internal/infra"
	"github.com/xela07ax/agentgate/internal/infra/auth"
	"github.com/xela07ax/agentgate/internal/policy"
	"github.com/xela07ax/agentgate/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM -> cancel
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	initCtx, initCancel := context.WithTimeout(appCtx, 10*time.Second)
	repo, err := postgres.New(initCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	initCancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 3. Control Plane: снапшот правил + живая подписка на обновления
	store, err := policy.NewStore(repo, domain.PolicyEffect(cfg.Engine.DefaultEffect), logger)
	if err != nil {
		logger.Fatal("rule store init failed", zap.Error(err))
	}
	snapCache := policy.NewRedisSnapshotCache(rdb, infra.RedisKeyRuleSnapshot, infra.RedisKeyLockRuleWarmup)
	if err := store.Warmup(appCtx, snapCache); err != nil {
		// Стартуем и на пустом снапшоте: действует дефолтный эффект
		logger.Warn("initial rule load failed, starting with empty snapshot", zap.Error(err))
	}
	go store.ListenRefresh(appCtx, rdb, infra.RedisChanRuleUpdate)

	// 4. Audit Trail: асинхронно, пачками в Postgres
	agentFS := audit.NewAgentFS(repo, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		BatchSize:     cfg.Engine.AuditBatchSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
		FillGauge:     func(n int) { metrics.AuditBufferFill.Set(float64(n)) },
	}, logger)
	agentFS.Start()

	// 5. Реестр действий и исполнение за контуром надежности
	registry := guard.NewRegistry()
	if err := registerActions(registry); err != nil {
		logger.Fatal("action registry", zap.Error(err))
	}

	relSettings := engine.DefaultReliabilitySettings()
	relSettings.CBMaxRequests = cfg.Engine.CBMaxRequests
	relSettings.CBInterval = cfg.Engine.CBInterval
	relSettings.CBTimeout = cfg.Engine.CBTimeout
	relSettings.RatePerSecond = cfg.Engine.RatePerSecond
	relSettings.RateBurst = cfg.Engine.RateBurst
	relSettings.RetryAttempts = cfg.Engine.RetryAttempts
	safeExecutor := engine.NewReliabilityWrapper(registry, relSettings, metrics)

	// 6. Сборка ядра
	approvals := approval.NewService(repo, cfg.Engine.ApprovalSecret, cfg.Engine.DefaultApprovalTTL, logger)
	preGuard := guard.NewPreGuard(registry, approvals)

	core := engine.NewCore(
		policy.NewEngine(store),
		preGuard,
		approvals,
		safeExecutor,
		agentFS,
		metrics,
		engine.EnforcementMode(cfg.Engine.EnforcementMode),
		cfg.Engine.GuardrailsEnabled,
		logger,
	)

	// Экспорт метрик для Prometheus
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, metricsMux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 7. HTTP Server. Цепочка: Trace -> Auth (если ключ задан) -> Execute
	var endpoint http.Handler = http.HandlerFunc(core.HandleExecute)
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("auth public key", zap.Error(err))
		}
		endpoint = auth.NewMiddleware(auth.NewBaseValidator(pubKey), logger)(endpoint)
	} else {
		logger.Warn("auth public key is not configured, /v1/execute is unauthenticated")
	}
	endpoint = engine.TracingMiddleware(endpoint)

	mux := http.NewServeMux()
	mux.Handle("/v1/execute", endpoint)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("gateway started",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.Engine.EnforcementMode),
			zap.Strings("actions", registry.Actions()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("gateway stopping")

	cancel() // останавливаем слушателей Redis

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Дописываем буфер аудита до конца
	agentFS.Stop()
	logger.Info("gateway exited properly")
}

// registerActions собирает закрытый реестр стенда: все действия идут через
// мок-коннектор. Обязательные параметры проверяются pre-guardrails до
// вызова хендлера.
func registerActions(r *guard.Registry) error {
	mock := &connectors.MockSystemsConnector{}

	specs := map[string]guard.ActionSpec{
		"quarantine":       {RequiredParams: []string{"email_id"}, Handler: mock},
		"reindex":          {RequiredParams: []string{"index_name"}, Handler: mock},
		"deploy.release":   {RequiredParams: []string{"service", "version"}, Handler: mock},
		"inbox.archive":    {RequiredParams: []string{"email_id"}, Handler: mock},
		"unstable.service": {Handler: mock},
	}

	for name, spec := range specs {
		if err := r.Register(name, spec); err != nil {
			return err
		}
	}
	return nil
}
