package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/sources"
	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

const (
	defaultBatchSize   = 50
	defaultConcurrency = 4
	defaultLockTTL     = 2 * time.Hour
)

// SyncOptions настраивает оркестратор синхронизации
type SyncOptions struct {
	// Concurrency ограничивает число одновременно выполняемых задач
	Concurrency int
	// BatchSize — размер пакета записей при применении результатов сверки
	BatchSize int
	// LockTTL — срок жизни блокировки массовой задачи
	LockTTL time.Duration
}

// SyncServiceInterface определяет операции оркестратора синхронизации
type SyncServiceInterface interface {
	SubmitJob(ctx context.Context, data *models.ProductSyncJobData) (string, error)
	ResumeJob(ctx context.Context, syncID, tenantID string) error
	CancelJob(syncID string) bool
	IngestWebhook(ctx context.Context, event *models.WebhookEvent) (models.WebhookOutcome, string, error)
	GetJob(ctx context.Context, syncID, tenantID string) (*models.SyncJob, error)
	GetResult(ctx context.Context, syncID, tenantID string) (*models.ProductSyncJobResult, error)
}

// SyncService — оркестратор задач синхронизации каталога.
// Ведет конечный автомат задачи PENDING -> RUNNING -> {COMPLETED, PARTIAL,
// FAILED}, гоняет записи по конвейеру адаптер -> нормализатор -> сверка
// и применяет результаты пакетами через слой хранения. Задачи выполняются
// асинхронно, параллелизм ограничен семафором.
type SyncService struct {
	repository storage.SyncStoragePort
	cache      interfaces.CachePort
	registry   *sources.Registry
	normalizer *Normalizer
	diff       *DiffEngine
	guard      *IdempotencyGuard
	reporter   *Reporter
	logger     interfaces.LoggerPort

	baseCtx    context.Context
	baseCancel context.CancelFunc
	mu         sync.Mutex
	running    map[string]context.CancelFunc

	sem       chan struct{}
	wg        sync.WaitGroup
	batchSize int
	lockTTL   time.Duration
}

// NewSyncService создает оркестратор синхронизации
func NewSyncService(
	repository storage.SyncStoragePort,
	cache interfaces.CachePort,
	registry *sources.Registry,
	normalizer *Normalizer,
	diff *DiffEngine,
	guard *IdempotencyGuard,
	reporter *Reporter,
	logger interfaces.LoggerPort,
	opts SyncOptions,
) *SyncService {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &SyncService{
		repository: repository,
		cache:      cache,
		registry:   registry,
		normalizer: normalizer,
		diff:       diff,
		guard:      guard,
		reporter:   reporter,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		running:    make(map[string]context.CancelFunc),
		sem:        make(chan struct{}, opts.Concurrency),
		batchSize:  opts.BatchSize,
		lockTTL:    opts.LockTTL,
	}
}

// SubmitJob принимает запрос на синхронизацию и немедленно возвращает
// syncId; сама задача выполняется асинхронно. Для массовых режимов
// (FULL, DELTA) берется блокировка на пару (tenant, source): вторая
// массовая задача получает ErrJobAlreadyRunning. Одиночные webhook-задачи
// блокировку не берут и выполняются параллельно с массовыми: от гонок
// их защищает оптимистическая проверка updated_at при применении.
func (s *SyncService) SubmitJob(ctx context.Context, data *models.ProductSyncJobData) (string, error) {
	if err := validateJobData(data); err != nil {
		return "", err
	}
	if data.ConflictResolution == "" {
		data.ConflictResolution = models.StrategySourceWins
	}

	job := &models.SyncJob{
		SyncID:             uuid.NewString(),
		TenantID:           data.TenantID,
		Source:             data.Source,
		Mode:               data.Mode,
		ConflictResolution: data.ConflictResolution,
		SourceConfig:       data.SourceConfig,
		Filter:             data.Filter,
		WebhookData:        data.WebhookData,
		ManualRecords:      data.ManualRecords,
		Status:             models.SyncStatusPending,
		CreatedAt:          time.Now().UTC(),
	}

	locked, err := s.acquireBulkLock(ctx, job)
	if err != nil {
		return "", err
	}

	if err := s.repository.SaveJob(ctx, job); err != nil {
		if locked {
			_ = s.cache.UnlockWithTenant(ctx, bulkLockKey(job.Source), job.TenantID)
		}
		return "", fmt.Errorf("failed to save sync job: %w", err)
	}

	s.launch(job, locked)
	return job.SyncID, nil
}

// ResumeJob продолжает незавершенную задачу с сохраненного курсора.
// Используется при повторной доставке команды после падения воркера.
// Терминальные задачи не возобновляются.
func (s *SyncService) ResumeJob(ctx context.Context, syncID, tenantID string) error {
	job, err := s.repository.GetJob(ctx, syncID, tenantID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return models.ErrJobTerminal
	}

	locked, err := s.acquireBulkLock(ctx, job)
	if err != nil {
		return err
	}

	s.launch(job, locked)
	return nil
}

// CancelJob отменяет выполняющуюся задачу. Возвращает false, если задача
// не выполняется в данный момент. Отмененная задача фиксируется как FAILED
// с накопленной статистикой.
func (s *SyncService) CancelJob(syncID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[syncID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Stop отменяет все выполняющиеся задачи и дожидается их завершения.
// Применяется, когда graceful shutdown исчерпал отведенное время.
func (s *SyncService) Stop() {
	s.baseCancel()
	s.wg.Wait()
}

// acquireBulkLock берет блокировку пары (tenant, source) для массовых
// режимов. Одиночные webhook-задачи выполняются без блокировки.
func (s *SyncService) acquireBulkLock(ctx context.Context, job *models.SyncJob) (bool, error) {
	if !job.Mode.IsBulk() || job.WebhookData != nil {
		return false, nil
	}
	ok, err := s.cache.LockWithTenant(ctx, bulkLockKey(job.Source), job.TenantID, s.lockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return false, models.ErrJobAlreadyRunning
	}
	return true, nil
}

// launch запускает выполнение задачи в отдельной горутине. Контекст
// выполнения отменяем: по CancelJob для одной задачи и по Stop для всех.
func (s *SyncService) launch(job *models.SyncJob, locked bool) {
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.running[job.SyncID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, job.SyncID)
			s.mu.Unlock()
			cancel()
		}()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		if locked {
			defer func() {
				_ = s.cache.UnlockWithTenant(context.Background(), bulkLockKey(job.Source), job.TenantID)
			}()
		}
		s.run(runCtx, job)
	}()
}

// IngestWebhook принимает webhook-событие: проверяет идемпотентность
// и, если событие допущено, ставит одиночную задачу синхронизации с
// источником самого события. Подтверждение возвращается немедленно,
// независимо от обработки.
func (s *SyncService) IngestWebhook(ctx context.Context, event *models.WebhookEvent) (models.WebhookOutcome, string, error) {
	if event == nil || event.TenantID == "" || event.EffectiveKey() == "" {
		return "", "", fmt.Errorf("webhook event is missing tenant or identifier")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	outcome, err := s.guard.Admit(ctx, event)
	if err != nil {
		return "", "", err
	}
	if outcome != models.WebhookAccepted {
		return outcome, "", nil
	}

	source := event.Source
	if source == "" {
		source = models.SourceWebhook
	}

	syncID, err := s.SubmitJob(ctx, &models.ProductSyncJobData{
		TenantID:    event.TenantID,
		Source:      source,
		Mode:        models.SyncModeDelta,
		WebhookData: event,
	})
	if err != nil {
		// ключ идемпотентности освобождается, иначе повторная доставка
		// не примененного события была бы отброшена как дубликат
		if ferr := s.guard.Forget(ctx, event); ferr != nil {
			s.logger.ErrorWithContext(ctx, "не удалось освободить ключ идемпотентности",
				interfaces.LogField{Key: "event_id", Value: event.EventID},
				interfaces.LogField{Key: "error", Value: ferr.Error()})
		}
		return "", "", err
	}
	return models.WebhookAccepted, syncID, nil
}

// GetJob возвращает задачу по идентификатору
func (s *SyncService) GetJob(ctx context.Context, syncID, tenantID string) (*models.SyncJob, error) {
	return s.repository.GetJob(ctx, syncID, tenantID)
}

// GetResult возвращает результат завершенной задачи
func (s *SyncService) GetResult(ctx context.Context, syncID, tenantID string) (*models.ProductSyncJobResult, error) {
	return s.repository.GetResult(ctx, syncID, tenantID)
}

// Wait блокируется до завершения всех запущенных задач.
// Используется при graceful shutdown воркера.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// run выполняет задачу целиком: от перевода в RUNNING до публикации
// результата. Частичные сбои по записям не прерывают задачу; фатальные
// ошибки адаптера и хранилища переводят ее в FAILED с сохранением
// накопленной статистики.
func (s *SyncService) run(ctx context.Context, job *models.SyncJob) {
	log := s.logger.WithTenant(job.TenantID).WithSyncID(job.SyncID)
	startedAt := time.Now().UTC()

	if err := s.repository.UpdateJobStatus(ctx, job.SyncID, job.TenantID, models.SyncStatusRunning); err != nil {
		log.Error("не удалось перевести задачу в RUNNING", interfaces.LogField{Key: "error", Value: err.Error()})
		return
	}

	stats := &models.SyncStats{}
	var syncErrors []models.SyncError
	var conflicts []*models.ProductConflict

	err := s.process(ctx, job, log, stats, &syncErrors, &conflicts)

	status := models.SyncStatusCompleted
	switch {
	case err != nil:
		status = models.SyncStatusFailed
		log.Error("задача синхронизации прервана",
			interfaces.LogField{Key: "error", Value: err.Error()},
			interfaces.LogField{Key: "processed", Value: stats.Total},
		)
	case len(syncErrors) > 0 || stats.Conflicts > 0:
		status = models.SyncStatusPartial
	}

	// терминальный статус и результат фиксируются даже после отмены задачи
	finalCtx := context.WithoutCancel(ctx)

	if uerr := s.repository.UpdateJobStatus(finalCtx, job.SyncID, job.TenantID, status); uerr != nil {
		log.Error("не удалось зафиксировать терминальный статус", interfaces.LogField{Key: "error", Value: uerr.Error()})
	}

	for _, syncErr := range syncErrors {
		if aerr := s.repository.AppendError(finalCtx, job.SyncID, job.TenantID, syncErr); aerr != nil {
			log.Error("не удалось сохранить ошибку записи", interfaces.LogField{Key: "error", Value: aerr.Error()})
		}
	}

	// отметка последней синхронизации относится только к массовым проходам:
	// одиночное webhook-событие не означает, что каталог перечитан
	if status != models.SyncStatusFailed && job.Mode.IsBulk() && job.WebhookData == nil {
		if serr := s.repository.SetLastSyncTimestamp(finalCtx, job.TenantID, job.Source, startedAt); serr != nil {
			log.Error("не удалось обновить отметку последней синхронизации", interfaces.LogField{Key: "error", Value: serr.Error()})
		}
	}

	if _, rerr := s.reporter.Report(finalCtx, job, status, *stats, syncErrors, conflicts, startedAt); rerr != nil {
		log.Error("не удалось опубликовать результат задачи", interfaces.LogField{Key: "error", Value: rerr.Error()})
	}

	log.Info("задача синхронизации завершена",
		interfaces.LogField{Key: "status", Value: string(status)},
		interfaces.LogField{Key: "total", Value: stats.Total},
		interfaces.LogField{Key: "errors", Value: stats.Errors},
		interfaces.LogField{Key: "conflicts", Value: stats.Conflicts},
	)
}

// process гоняет записи источника по конвейеру. Возвращаемая ошибка
// означает фатальный сбой всей задачи.
func (s *SyncService) process(ctx context.Context, job *models.SyncJob, log interfaces.LoggerPort, stats *models.SyncStats, syncErrors *[]models.SyncError, conflicts *[]*models.ProductConflict) error {
	adapter, err := s.resolveAdapter(job)
	if err != nil {
		return err
	}

	if job.Mode == models.SyncModeInventoryOnly && job.Filter != nil && len(job.Filter.ExternalIDs) > 0 {
		return s.refreshInventory(ctx, job, adapter, stats, syncErrors)
	}

	iterator, err := s.openIterator(ctx, job, adapter)
	if err != nil {
		return err
	}
	defer iterator.Close()

	batch := make([]*batchItem, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.applyBatch(ctx, job, batch, stats, syncErrors); err != nil {
			return err
		}
		batch = batch[:0]
		// курсор сохраняется после каждого примененного пакета,
		// чтобы упавшая задача возобновилась без повторной работы
		if err := s.repository.SaveCursor(ctx, job.SyncID, job.TenantID, iterator.Cursor()); err != nil {
			log.Warn("не удалось сохранить курсор", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		return nil
	}

	for {
		record, ok, err := iterator.Next(ctx)
		if err != nil {
			if flushErr := flush(); flushErr != nil {
				return flushErr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if models.IsRetryable(err) {
				// попытки исчерпаны внутри адаптера: оставшиеся страницы
				// пропускаются, задача завершается как частичная
				stats.Errors++
				*syncErrors = append(*syncErrors, models.SyncError{
					Message:    err.Error(),
					Code:       "adapter_retries_exhausted",
					Retryable:  true,
					OccurredAt: time.Now().UTC(),
				})
				return nil
			}
			return err
		}
		if !ok {
			break
		}

		stats.Total++
		item, syncErr := s.processRecord(ctx, job, record)
		if syncErr != nil {
			stats.Errors++
			*syncErrors = append(*syncErrors, *syncErr)
			continue
		}
		if item == nil {
			stats.Skipped++
			continue
		}
		if item.outcome.Conflict != nil {
			stats.Conflicts++
			*conflicts = append(*conflicts, item.outcome.Conflict)
		}

		switch item.outcome.Action {
		case ActionCreate, ActionUpdate:
			batch = append(batch, item)
			if len(batch) >= s.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case ActionSkip:
			stats.Skipped++
		case ActionNoop:
			if item.outcome.Conflict == nil {
				stats.Skipped++
			}
		}
	}

	return flush()
}

type batchItem struct {
	record  *models.RawProductRecord
	product *models.NormalizedProduct
	outcome *DiffOutcome
}

// processRecord нормализует и сверяет одну запись. Ошибка нормализации
// исключает запись из пакета, но не прерывает задачу.
func (s *SyncService) processRecord(ctx context.Context, job *models.SyncJob, record *models.RawProductRecord) (*batchItem, *models.SyncError) {
	normalized, err := s.normalizer.Normalize(record, job.SourceConfig.Currency)
	if err != nil {
		var nerr *models.NormalizationError
		if errors.As(err, &nerr) {
			return nil, &models.SyncError{
				ExternalID: nerr.ExternalID,
				SKU:        nerr.SKU,
				Message:    nerr.Error(),
				Code:       "normalization_failed",
				Retryable:  false,
				OccurredAt: time.Now().UTC(),
			}
		}
		return nil, &models.SyncError{
			Message:    err.Error(),
			Code:       "normalization_failed",
			Retryable:  false,
			OccurredAt: time.Now().UTC(),
		}
	}

	local, err := s.locateLocal(ctx, job.TenantID, normalized)
	if err != nil {
		return nil, &models.SyncError{
			ExternalID: normalized.ExternalID,
			SKU:        normalized.SKU,
			Message:    err.Error(),
			Code:       "lookup_failed",
			Retryable:  true,
			OccurredAt: time.Now().UTC(),
		}
	}

	outcome := s.diff.Diff(job, local, normalized)
	if outcome.Action == ActionSkip && job.Mode != models.SyncModeInventoryOnly && job.Mode != models.SyncModePricesOnly {
		return nil, nil
	}
	return &batchItem{record: record, product: normalized, outcome: outcome}, nil
}

// locateLocal ищет локальную запись по (source, externalId),
// затем по sku как запасному ключу
func (s *SyncService) locateLocal(ctx context.Context, tenantID string, normalized *models.NormalizedProduct) (*models.LocalProduct, error) {
	local, err := s.repository.FindBySourceAndExternalID(ctx, tenantID, normalized.Source, normalized.ExternalID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}
	return s.repository.FindBySKU(ctx, tenantID, normalized.SKU)
}

// applyBatch применяет пакет результатов сверки в одной транзакции.
// Каждая запись защищена оптимистической проверкой updated_at: устаревшее
// значение пропускается, а не затирает более новое локальное состояние.
func (s *SyncService) applyBatch(ctx context.Context, job *models.SyncJob, batch []*batchItem, stats *models.SyncStats, syncErrors *[]models.SyncError) error {
	txCtx, err := s.repository.BeginTx(ctx)
	if err != nil {
		return &models.PersistenceError{Op: "begin_tx", Err: err}
	}

	for _, item := range batch {
		applied, err := s.repository.UpsertProduct(txCtx, item.outcome.Product)
		if err != nil {
			_ = s.repository.RollbackTx(txCtx)
			return &models.PersistenceError{Op: "upsert_product", Err: err}
		}
		if !applied {
			stats.Skipped++
			continue
		}

		switch item.outcome.Action {
		case ActionCreate:
			stats.Created++
		case ActionUpdate:
			stats.Updated++
		}
		for _, field := range item.outcome.AppliedFields {
			switch field {
			case "inventory_quantity":
				stats.InventoryUpdates++
			case "price", "compare_at_price":
				stats.PriceUpdates++
			}
		}

		if job.WebhookData != nil {
			if merr := s.guard.MarkApplied(txCtx, job.WebhookData); merr != nil {
				s.logger.WarnWithContext(txCtx, "не удалось зафиксировать отметку применения события",
					interfaces.LogField{Key: "error", Value: merr.Error()})
			}
		}
	}

	if err := s.repository.CommitTx(txCtx); err != nil {
		_ = s.repository.RollbackTx(txCtx)
		return &models.PersistenceError{Op: "commit_tx", Err: err}
	}
	return nil
}

// refreshInventory выполняет точечное обновление остатков по списку
// externalId без полного перечисления каталога
func (s *SyncService) refreshInventory(ctx context.Context, job *models.SyncJob, adapter sources.SourceAdapter, stats *models.SyncStats, syncErrors *[]models.SyncError) error {
	quantities, err := adapter.FetchInventory(ctx, job.Filter.ExternalIDs)
	if err != nil {
		if models.IsRetryable(err) {
			stats.Errors++
			*syncErrors = append(*syncErrors, models.SyncError{
				Message:    err.Error(),
				Code:       "inventory_fetch_failed",
				Retryable:  true,
				OccurredAt: time.Now().UTC(),
			})
			return nil
		}
		return err
	}

	for _, externalID := range job.Filter.ExternalIDs {
		stats.Total++
		quantity, ok := quantities[externalID]
		if !ok {
			stats.Skipped++
			continue
		}

		local, err := s.repository.FindBySourceAndExternalID(ctx, job.TenantID, job.Source, externalID)
		if err != nil {
			stats.Errors++
			*syncErrors = append(*syncErrors, models.SyncError{
				ExternalID: externalID,
				Message:    err.Error(),
				Code:       "lookup_failed",
				Retryable:  true,
				OccurredAt: time.Now().UTC(),
			})
			continue
		}
		if local == nil || local.InventoryQuantity == quantity {
			stats.Skipped++
			continue
		}

		local.InventoryQuantity = quantity
		local.UpdatedAt = time.Now().UTC()
		applied, err := s.repository.UpsertProduct(ctx, local)
		if err != nil {
			stats.Errors++
			*syncErrors = append(*syncErrors, models.SyncError{
				ExternalID: externalID,
				Message:    err.Error(),
				Code:       "upsert_failed",
				Retryable:  true,
				OccurredAt: time.Now().UTC(),
			})
			continue
		}
		if applied {
			stats.Updated++
			stats.InventoryUpdates++
		} else {
			stats.Skipped++
		}
	}
	return nil
}

func (s *SyncService) resolveAdapter(job *models.SyncJob) (sources.SourceAdapter, error) {
	// задача, созданная приемником webhook, несет источник события,
	// поэтому диспетчеризация идет по наличию полезной нагрузки
	if job.WebhookData != nil || job.Source == models.SourceWebhook {
		return sources.NewWebhookAdapter(job.WebhookData)
	}
	if job.Source == models.SourceManual {
		return sources.NewManualAdapter(job.ManualRecords), nil
	}
	return s.registry.Resolve(job.Source, job.SourceConfig, s.logger)
}

// openIterator открывает последовательность записей с учетом режима
// и сохраненного курсора возобновления
func (s *SyncService) openIterator(ctx context.Context, job *models.SyncJob, adapter sources.SourceAdapter) (sources.RecordIterator, error) {
	cursor, err := s.repository.GetCursor(ctx, job.SyncID, job.TenantID)
	if err != nil {
		return nil, &models.PersistenceError{Op: "get_cursor", Err: err}
	}

	// одиночное webhook-событие не фильтруется отметкой последней
	// синхронизации: его устаревание уже проверено на приеме по external_id
	if job.Mode == models.SyncModeDelta && job.WebhookData == nil {
		since, err := s.repository.GetLastSyncTimestamp(ctx, job.TenantID, job.Source)
		if err != nil {
			return nil, &models.PersistenceError{Op: "get_last_sync", Err: err}
		}
		return adapter.ListDelta(ctx, since, cursor)
	}
	return adapter.ListAll(ctx, job.Filter, cursor)
}

func validateJobData(data *models.ProductSyncJobData) error {
	if data == nil {
		return fmt.Errorf("sync job data is required")
	}
	if data.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if data.Source == "" {
		return fmt.Errorf("sync source is required")
	}
	switch data.Mode {
	case models.SyncModeFull, models.SyncModeDelta, models.SyncModeInventoryOnly, models.SyncModePricesOnly:
	default:
		return fmt.Errorf("unknown sync mode: %s", data.Mode)
	}
	if data.ConflictResolution != "" {
		if _, ok := strategyTable[data.ConflictResolution]; !ok {
			return fmt.Errorf("%w: %s", models.ErrUnknownStrategy, data.ConflictResolution)
		}
	}
	return nil
}

func bulkLockKey(source models.ProductSyncSource) string {
	return fmt.Sprintf("sync:lock:%s:bulk", source)
}
