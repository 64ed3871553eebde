package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/gomarket-platform/sync-service/config"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/cache"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/logger"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/messaging"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/sources"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/services"
	"github.com/athebyme/gomarket-platform/sync-service/internal/utils"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// shutdownGrace — время ожидания выполняющихся задач при завершении воркера
const shutdownGrace = 30 * time.Second

// Метрики для Prometheus
var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_processed_total",
		Help: "Общее количество обработанных сообщений",
	}, []string{"topic", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_processing_duration_seconds",
		Help:    "Длительность обработки сообщений",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	syncJobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_submitted_total",
		Help: "Количество поставленных задач синхронизации",
	}, []string{"source", "mode"})

	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_webhook_outcomes_total",
		Help: "Исходы приема webhook-событий",
	}, []string{"source", "outcome"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active_goroutines",
		Help: "Количество активных горутин-обработчиков",
	})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})

			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	// Генерируем строку подключения к PostgreSQL
	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	// Инициализируем хранилище
	repo, err := storage.NewPostgresStorage(ctx, connectionStr)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer repo.Close()
	log.Info("Хранилище инициализировано")

	// Инициализируем кэш
	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	// Инициализируем систему обмена сообщениями
	messagingClient, err := messaging.NewKafkaMessaging(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.DeadLetterTopic,
		log,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	// Собираем движок синхронизации
	normalizer := services.NewNormalizer(cfg.Sync.DefaultCurrency)
	diffEngine := services.NewDiffEngine()
	guard := services.NewIdempotencyGuard(cacheClient, log, cfg.Sync.IdempotencyTTL)
	reporter := services.NewReporter(repo, messagingClient, log, services.Cadences{
		Full:      cfg.Sync.FullCadence,
		Delta:     cfg.Sync.DeltaCadence,
		Inventory: cfg.Sync.InventoryCadence,
		Prices:    cfg.Sync.PricesCadence,
	})
	syncService := services.NewSyncService(
		repo,
		cacheClient,
		sources.DefaultRegistry(),
		normalizer,
		diffEngine,
		guard,
		reporter,
		log,
		services.SyncOptions{
			Concurrency: cfg.Sync.Concurrency,
			BatchSize:   cfg.Sync.BatchSize,
			LockTTL:     cfg.Sync.LockTTL,
		},
	)
	log.Info("Движок синхронизации инициализирован")

	// Каналы для сигналов и завершения
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// Подписываемся на команды синхронизации и webhook-события
	subscribeToSyncCommands(ctx, messagingClient, syncService, log, &wg)
	subscribeToWebhookEvents(ctx, messagingClient, syncService, log, &wg)

	// Обработка сигналов завершения
	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()

		// дожидаемся выполняющихся задач синхронизации; по истечении
		// отведенного времени задачи отменяются и фиксируются как FAILED
		finished := make(chan struct{})
		go func() {
			syncService.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(shutdownGrace):
			log.Warn("Задачи не завершились вовремя, выполняется принудительная отмена")
			syncService.Stop()
		}
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке сообщений")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// Подписка на команды синхронизации. Внешний диспетчер (планировщик или
// ручной запуск) публикует ProductSyncJobData в топик sync-commands.
func subscribeToSyncCommands(ctx context.Context, messagingClient interfaces.MessagingPort,
	syncService services.SyncServiceInterface,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	commandHandler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()

		logger.InfoWithContext(ctx, "Получена команда синхронизации",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "topic", Value: msg.Topic},
		)

		var data models.ProductSyncJobData
		if err := json.Unmarshal(msg.Value, &data); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования команды",
				interfaces.LogField{Key: "error", Value: err.Error()})
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		// Добавляем tenant_id в контекст
		cmdCtx := context.WithValue(ctx, "tenant_id", data.TenantID)

		// Команда с sync_id возобновляет незавершенную задачу
		// с сохраненного курсора вместо создания новой
		if data.SyncID != "" {
			err := syncService.ResumeJob(cmdCtx, data.SyncID, data.TenantID)
			switch {
			case err == nil:
				logger.InfoWithContext(cmdCtx, "Задача синхронизации возобновлена",
					interfaces.LogField{Key: "sync_id", Value: data.SyncID})
				messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()
			case errors.Is(err, models.ErrJobTerminal), errors.Is(err, models.ErrJobNotFound):
				// задача уже завершена или неизвестна: команду подтверждаем
				logger.InfoWithContext(cmdCtx, "Возобновление не требуется",
					interfaces.LogField{Key: "sync_id", Value: data.SyncID},
					interfaces.LogField{Key: "reason", Value: err.Error()})
				messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()
			default:
				logger.ErrorWithContext(cmdCtx, "Ошибка возобновления задачи",
					interfaces.LogField{Key: "sync_id", Value: data.SyncID},
					interfaces.LogField{Key: "error", Value: err.Error()})
				messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
				return err
			}
			return nil
		}

		syncID, err := syncService.SubmitJob(cmdCtx, &data)
		if err != nil {
			logger.ErrorWithContext(cmdCtx, "Ошибка постановки задачи синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "source", Value: string(data.Source)},
				interfaces.LogField{Key: "mode", Value: string(data.Mode)},
			)
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		syncJobsSubmitted.WithLabelValues(string(data.Source), string(data.Mode)).Inc()

		duration := time.Since(startTime).Seconds()
		messageProcessingDuration.WithLabelValues(msg.Topic).Observe(duration)
		messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()

		logger.InfoWithContext(cmdCtx, "Задача синхронизации поставлена",
			interfaces.LogField{Key: "sync_id", Value: syncID},
			interfaces.LogField{Key: "source", Value: string(data.Source)},
			interfaces.LogField{Key: "mode", Value: string(data.Mode)},
			interfaces.LogField{Key: "duration", Value: duration},
		)

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, messaging.SyncCommandsTopic, commandHandler)
		if err != nil {
			logger.Error("Ошибка подписки на команды синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на команды синхронизации установлена")

		<-ctx.Done()
		logger.Info("Отмена подписки на команды синхронизации")
	}()
}

// Подписка на webhook-события источников. События проходят через защиту
// идемпотентности: дубликаты и устаревшие подтверждаются без работы.
func subscribeToWebhookEvents(ctx context.Context, messagingClient interfaces.MessagingPort,
	syncService services.SyncServiceInterface,
	logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	eventHandler := func(ctx context.Context, msg *interfaces.Message) error {
		startTime := time.Now()
		activeWorkers.Inc()
		defer activeWorkers.Dec()

		logger.InfoWithContext(ctx, "Получено webhook-событие",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "topic", Value: msg.Topic},
		)

		var event models.WebhookEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.ErrorWithContext(ctx, "Ошибка декодирования события",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "message_id", Value: msg.ID},
			)
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		// Добавляем tenant_id в контекст
		evtCtx := context.WithValue(ctx, "tenant_id", event.TenantID)

		outcome, syncID, err := syncService.IngestWebhook(evtCtx, &event)
		if err != nil {
			logger.ErrorWithContext(evtCtx, "Ошибка приема webhook-события",
				interfaces.LogField{Key: "error", Value: err.Error()},
				interfaces.LogField{Key: "event_id", Value: event.EventID},
			)
			messagesProcessed.WithLabelValues(msg.Topic, "error").Inc()
			return err
		}

		webhookOutcomes.WithLabelValues(string(event.Source), string(outcome)).Inc()

		duration := time.Since(startTime).Seconds()
		messageProcessingDuration.WithLabelValues(msg.Topic).Observe(duration)
		messagesProcessed.WithLabelValues(msg.Topic, "success").Inc()

		logger.InfoWithContext(evtCtx, "Webhook-событие обработано",
			interfaces.LogField{Key: "event_id", Value: event.EventID},
			interfaces.LogField{Key: "outcome", Value: string(outcome)},
			interfaces.LogField{Key: "sync_id", Value: syncID},
			interfaces.LogField{Key: "duration", Value: duration},
		)

		return nil
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, messaging.WebhookEventsTopic, eventHandler)
		if err != nil {
			logger.Error("Ошибка подписки на webhook-события",
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer unsubscribe()

		logger.Info("Подписка на webhook-события установлена")

		<-ctx.Done()
		logger.Info("Отмена подписки на webhook-события")
	}()
}
