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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentgate/internal/approval"
	"github.com/xela07ax/agentgate/internal/console/handler"
	"github.com/xela07ax/agentgate/internal/console/server"
	"github.com/xela07ax/agentgate/internal/console/service"
	"github.com/xela07ax/agentgate/internal/domain"
	"github.com/xela07ax/agentgate/internal/infra"
	"github.com/xela07ax/agentgate/internal/infra/auth"
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

	// Консоль подписывает вердикты и проверяет токены — ключи обязательны
	if len(cfg.Auth.PublicKey) == 0 {
		logger.Fatal("auth public key is required for console (auth.public_key_path or AUTH_PUBLIC_KEY_DATA)")
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}

	// 2. Ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	repo, err := postgres.New(initCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	initCancel()
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	// 3. Инициализация слоев (Dependency Injection)
	approvalCore := approval.NewService(repo, cfg.Engine.ApprovalSecret, cfg.Engine.DefaultApprovalTTL, logger)
	approvalSvc := service.NewApprovalService(approvalCore, rdb, logger)
	policySvc := service.NewPolicyService(repo, rdb, domain.PolicyEffect(cfg.Engine.DefaultEffect), logger)
	auditSvc := service.NewAuditService(repo)

	srvHandler := server.NewConsoleServer(
		logger,
		auth.NewBaseValidator(pubKey),
		handler.NewRuleHandler(policySvc),
		handler.NewApprovalHandler(approvalSvc),
		handler.NewAuditHandler(auditSvc),
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return repo.Ping(ctx)
		},
	)

	// 4. Запуск сервера
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("console stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
}
