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

	"github.com/xela07ax/pluginguard/internal/anomaly"
	"github.com/xela07ax/pluginguard/internal/audit"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"github.com/xela07ax/pluginguard/internal/infra/auth"
	"github.com/xela07ax/pluginguard/internal/lifecycle"
	"github.com/xela07ax/pluginguard/internal/permission"
	"github.com/xela07ax/pluginguard/internal/policy"
	"github.com/xela07ax/pluginguard/internal/repository"
	"github.com/xela07ax/pluginguard/internal/repository/postgres"
	"github.com/xela07ax/pluginguard/internal/risk"
	"github.com/xela07ax/pluginguard/internal/server"
	sig "github.com/xela07ax/pluginguard/internal/signal"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL env) is required")
	}

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pool, err := postgres.NewPool(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer pool.Close()

	stateRepo := postgres.NewStateRepo(pool)
	eventRepo := postgres.NewEventRepo(pool)
	userRepo := postgres.NewUserRepo(pool)

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	// 3. Журнал событий: кольцевой буфер + асинхронная персистентность пачками
	writer := audit.NewWriter(eventRepo, cfg.Engine.AuditBufferSize, metrics.AuditBufferFill, logger)
	writer.Start()
	eventLog := audit.NewEventLog(cfg.Engine.EventLogCapacity, writer, logger)

	// 4. Ядро движка: каталог, гранты, риск, аномалии, карантин, жизненный цикл
	catalog := domain.NewCatalog()
	perms := permission.NewManager(catalog, eventLog, logger)
	detector := anomaly.NewDetector(anomaly.Config{
		RapidWindow: cfg.Engine.RapidWindow,
		RapidCount:  cfg.Engine.RapidCount,
		Cooldown:    cfg.Engine.AnomalyCooldown,
	}, logger)
	scorer := risk.NewScorer(eventLog)
	quarantine := policy.NewQuarantine(scorer, detector, eventLog, policy.Thresholds{
		Score:          cfg.Engine.ScoreThreshold,
		RapidCount:     cfg.Engine.RapidCount,
		RapidWindow:    cfg.Engine.RapidWindow,
		CriticalWindow: cfg.Engine.CriticalWindow,
	})

	reliableStore := repository.NewReliableStateStore(stateRepo, cfg.Engine.PersistenceRetries, logger)
	broadcaster := sig.NewBroadcaster(rdb, logger)

	engine := lifecycle.NewManager(
		perms, quarantine, detector, scorer, eventLog,
		reliableStore, broadcaster, metrics,
		cfg.Engine.ErrorThreshold, logger,
	)

	// 5. Кэш закрытых плагинов: прогрев при старте + live-подписка
	watcher := sig.NewWatcher(rdb, stateRepo, logger)
	if err := watcher.Init(appCtx); err != nil {
		logger.Warn("barred plugins warm-up failed, continuing with empty cache", zap.Error(err))
	}
	go watcher.StartListener(appCtx)

	// 6. Auth (RS256)
	pubKey, privKey, err := auth.LoadRSAKeyPair(cfg.Auth.PublicKey, cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid auth key material", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)
	authService := server.NewAuthService(userRepo, privKey, cfg.Auth.TokenTTL)

	// 7. HTTP поверхность
	srv := server.NewServer(
		cfg, logger, validator, metrics,
		server.NewAuthHandler(authService),
		server.NewPluginHandler(engine, perms, watcher, metrics, logger),
		server.NewAuditHandler(eventLog),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus на отдельном порту
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()

	// 8. Housekeeping: периодическая чистка устаревших событий журнала
	go func() {
		ticker := time.NewTicker(cfg.Engine.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-appCtx.Done():
				return
			case <-ticker.C:
				eventLog.PurgeOlderThan(cfg.Engine.AuditRetention)
			}
		}
	}()

	// 9. Запуск и Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("pluginguard engine started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("pluginguard engine stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()      // останавливаем слушателей и housekeeping
	writer.Stop() // Drain Pattern: дописываем буфер аудита
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", zap.Error(err))
	}
	logger.Info("pluginguard engine exited properly")
}
