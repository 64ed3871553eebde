package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/tx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncStorageInterface определяет контракт хранилища, который потребляет
// движок синхронизации. Схема хранения за пределами этого контракта —
// деталь реализации.
type SyncStorageInterface interface {
	// Поиск локальных записей каталога

	// FindBySourceAndExternalID находит локальную запись по ключу связи
	// (source, external_id). Возвращает nil, nil если запись не найдена.
	FindBySourceAndExternalID(ctx context.Context, tenantID string, source models.ProductSyncSource, externalID string) (*models.LocalProduct, error)

	// FindBySKU находит локальную запись по запасному ключу SKU
	FindBySKU(ctx context.Context, tenantID string, sku string) (*models.LocalProduct, error)

	// UpsertProduct создает или обновляет локальную запись.
	// Обновление защищено оптимистической проверкой: запись с более новым
	// updated_at не перезаписывается устаревшими данными. Возвращает true,
	// если запись была применена.
	UpsertProduct(ctx context.Context, product *models.LocalProduct) (bool, error)

	// Задачи синхронизации

	SaveJob(ctx context.Context, job *models.SyncJob) error
	GetJob(ctx context.Context, syncID string, tenantID string) (*models.SyncJob, error)

	// UpdateJobStatus переводит задачу в новый статус и добавляет запись
	// в append-only историю статусов. Терминальные задачи неизменяемы.
	UpdateJobStatus(ctx context.Context, syncID string, tenantID string, status models.SyncStatus) error

	// AppendError добавляет ошибку по отдельной записи; ошибки никогда
	// не перезаписываются
	AppendError(ctx context.Context, syncID string, tenantID string, syncErr models.SyncError) error

	// SaveResult сохраняет итог выполнения задачи
	SaveResult(ctx context.Context, tenantID string, result *models.ProductSyncJobResult) error
	GetResult(ctx context.Context, syncID string, tenantID string) (*models.ProductSyncJobResult, error)

	// Конфликты

	// RecordConflict сохраняет неразрешенный конфликт. Прежний неразрешенный
	// конфликт по тому же товару замещается (последний ожидающий выигрывает).
	RecordConflict(ctx context.Context, conflict *models.ProductConflict) error
	GetConflict(ctx context.Context, conflictID string, tenantID string) (*models.ProductConflict, error)
	UpdateConflict(ctx context.Context, conflict *models.ProductConflict) error
	ListPendingConflicts(ctx context.Context, tenantID string, limit, offset int) ([]*models.ProductConflict, int, error)

	// Метки времени и курсоры

	GetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource) (time.Time, error)
	SetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource, ts time.Time) error

	// SaveCursor сохраняет курсор возобновления постраничной выборки,
	// чтобы упавшая задача продолжила с последней успешной страницы
	SaveCursor(ctx context.Context, syncID string, tenantID string, cursor string) error
	GetCursor(ctx context.Context, syncID string, tenantID string) (string, error)
}

// SyncStoragePort добавляет к контракту хранилища управление транзакциями
type SyncStoragePort interface {
	interfaces.StoragePort
	SyncStorageInterface
}

// SyncStorage реализация SyncStoragePort для PostgreSQL
type SyncStorage struct {
	pool *pgxpool.Pool
}

var _ SyncStoragePort = (*SyncStorage)(nil)

// NewPostgresStorage создает новый экземпляр SyncStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*SyncStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &SyncStorage{
		pool: pool,
	}, nil
}

// NewPostgresStorageWithPool создает хранилище поверх готового пула соединений
func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*SyncStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SyncStorage{
		pool: pool,
	}, nil
}

// Close закрывает соединение с БД
func (r *SyncStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *SyncStorage) getExecutor(ctx context.Context) executor {
	if pgxTx := r.getTx(ctx); pgxTx != nil {
		return pgxTx // pgx.Tx реализует нужные методы
	}
	return r.pool // *pgxpool.Pool тоже реализует нужные методы
}

// getTx получает транзакцию из контекста
func (r *SyncStorage) getTx(ctx context.Context) pgx.Tx {
	txFromCtx, ok := tx.FromContext(ctx)
	if !ok {
		return nil
	}
	return txFromCtx
}

// BeginTx начинает новую транзакцию
func (r *SyncStorage) BeginTx(ctx context.Context) (context.Context, error) {
	pgxTx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, tx.GetKey(), pgxTx), nil
}

// CommitTx фиксирует транзакцию
func (r *SyncStorage) CommitTx(ctx context.Context) error {
	pgxTx := r.getTx(ctx)
	if pgxTx == nil {
		return errors.New("no transaction in context")
	}
	return pgxTx.Commit(ctx)
}

// RollbackTx откатывает транзакцию
func (r *SyncStorage) RollbackTx(ctx context.Context) error {
	pgxTx := r.getTx(ctx)
	if pgxTx == nil {
		return errors.New("no transaction in context")
	}
	return pgxTx.Rollback(ctx)
}

const localProductColumns = `id, tenant_id, source, external_id, sku, name, description,
		price, compare_at_price, currency, inventory_quantity, status, base_data, created_at, updated_at`

func scanLocalProduct(row pgx.Row) (*models.LocalProduct, error) {
	var p models.LocalProduct
	err := row.Scan(&p.ID, &p.TenantID, &p.Source, &p.ExternalID, &p.SKU, &p.Name, &p.Description,
		&p.Price, &p.CompareAtPrice, &p.Currency, &p.InventoryQuantity, &p.Status,
		&p.BaseData, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Запись не найдена
		}
		return nil, err
	}
	return &p, nil
}

// FindBySourceAndExternalID находит локальную запись по ключу (source, external_id)
func (r *SyncStorage) FindBySourceAndExternalID(ctx context.Context, tenantID string, source models.ProductSyncSource, externalID string) (*models.LocalProduct, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + localProductColumns + `
		FROM sync.products
		WHERE tenant_id = $1 AND source = $2 AND external_id = $3
	`

	product, err := scanLocalProduct(executor.QueryRow(ctx, query, tenantID, source, externalID))
	if err != nil {
		return nil, &models.PersistenceError{Op: "find by source/external_id", Err: err}
	}
	return product, nil
}

// FindBySKU находит локальную запись по SKU
func (r *SyncStorage) FindBySKU(ctx context.Context, tenantID string, sku string) (*models.LocalProduct, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + localProductColumns + `
		FROM sync.products
		WHERE tenant_id = $1 AND sku = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`

	product, err := scanLocalProduct(executor.QueryRow(ctx, query, tenantID, sku))
	if err != nil {
		return nil, &models.PersistenceError{Op: "find by sku", Err: err}
	}
	return product, nil
}

// UpsertProduct создает или обновляет локальную запись каталога.
// Условие products.updated_at <= EXCLUDED.updated_at отклоняет устаревшие
// данные без явной блокировки: одиночные webhook-задачи могут выполняться
// параллельно с массовой синхронизацией того же арендатора.
func (r *SyncStorage) UpsertProduct(ctx context.Context, product *models.LocalProduct) (bool, error) {
	executor := r.getExecutor(ctx)

	if product.ID == "" {
		product.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}

	query := `
		INSERT INTO sync.products (` + localProductColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, source, external_id)
		DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			compare_at_price = EXCLUDED.compare_at_price,
			currency = EXCLUDED.currency,
			inventory_quantity = EXCLUDED.inventory_quantity,
			status = EXCLUDED.status,
			base_data = EXCLUDED.base_data,
			updated_at = EXCLUDED.updated_at
		WHERE sync.products.updated_at <= EXCLUDED.updated_at
	`

	tag, err := executor.Exec(ctx, query,
		product.ID, product.TenantID, product.Source, product.ExternalID, product.SKU,
		product.Name, product.Description, product.Price, product.CompareAtPrice, product.Currency,
		product.InventoryQuantity, product.Status, product.BaseData, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return false, &models.PersistenceError{Op: "upsert product", Err: err}
	}

	return tag.RowsAffected() > 0, nil
}

// SaveJob сохраняет новую задачу синхронизации
func (r *SyncStorage) SaveJob(ctx context.Context, job *models.SyncJob) error {
	executor := r.getExecutor(ctx)

	configJSON, err := json.Marshal(job.SourceConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal source config: %w", err)
	}

	var filterJSON, webhookJSON []byte
	if job.Filter != nil {
		if filterJSON, err = json.Marshal(job.Filter); err != nil {
			return fmt.Errorf("failed to marshal filter: %w", err)
		}
	}
	if job.WebhookData != nil {
		if webhookJSON, err = json.Marshal(job.WebhookData); err != nil {
			return fmt.Errorf("failed to marshal webhook data: %w", err)
		}
	}

	query := `
		INSERT INTO sync.jobs (sync_id, tenant_id, source, mode, conflict_resolution,
			source_config, filter, webhook_data, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = executor.Exec(ctx, query, job.SyncID, job.TenantID, job.Source, job.Mode,
		job.ConflictResolution, configJSON, filterJSON, webhookJSON, job.Status, job.CreatedAt)
	if err != nil {
		return &models.PersistenceError{Op: "save job", Err: err}
	}

	return r.appendStatusHistory(ctx, job.SyncID, job.TenantID, job.Status)
}

// GetJob получает задачу по syncID
func (r *SyncStorage) GetJob(ctx context.Context, syncID string, tenantID string) (*models.SyncJob, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT sync_id, tenant_id, source, mode, conflict_resolution,
			source_config, filter, webhook_data, status, created_at,
			COALESCE(started_at, 'epoch'::timestamptz), COALESCE(finished_at, 'epoch'::timestamptz)
		FROM sync.jobs
		WHERE sync_id = $1 AND tenant_id = $2
	`

	var job models.SyncJob
	var configJSON, filterJSON, webhookJSON []byte

	row := executor.QueryRow(ctx, query, syncID, tenantID)
	err := row.Scan(&job.SyncID, &job.TenantID, &job.Source, &job.Mode, &job.ConflictResolution,
		&configJSON, &filterJSON, &webhookJSON, &job.Status, &job.CreatedAt,
		&job.StartedAt, &job.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, &models.PersistenceError{Op: "get job", Err: err}
	}

	if err := json.Unmarshal(configJSON, &job.SourceConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source config: %w", err)
	}
	if len(filterJSON) > 0 {
		job.Filter = &models.SyncFilter{}
		if err := json.Unmarshal(filterJSON, job.Filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
		}
	}
	if len(webhookJSON) > 0 {
		job.WebhookData = &models.WebhookEvent{}
		if err := json.Unmarshal(webhookJSON, job.WebhookData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook data: %w", err)
		}
	}

	return &job, nil
}

// UpdateJobStatus переводит задачу в новый статус.
// Переход из терминального статуса отклоняется на уровне запроса.
func (r *SyncStorage) UpdateJobStatus(ctx context.Context, syncID string, tenantID string, status models.SyncStatus) error {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE sync.jobs
		SET status = $3,
			started_at = CASE WHEN $3 = 'RUNNING' THEN now() ELSE started_at END,
			finished_at = CASE WHEN $3 IN ('COMPLETED', 'PARTIAL', 'FAILED') THEN now() ELSE finished_at END
		WHERE sync_id = $1 AND tenant_id = $2
			AND status NOT IN ('COMPLETED', 'PARTIAL', 'FAILED')
	`

	tag, err := executor.Exec(ctx, query, syncID, tenantID, status)
	if err != nil {
		return &models.PersistenceError{Op: "update job status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobTerminal
	}

	return r.appendStatusHistory(ctx, syncID, tenantID, status)
}

// appendStatusHistory добавляет запись в append-only историю статусов задачи
func (r *SyncStorage) appendStatusHistory(ctx context.Context, syncID string, tenantID string, status models.SyncStatus) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.job_status_history (sync_id, tenant_id, status, occurred_at)
		VALUES ($1, $2, $3, now())
	`

	if _, err := executor.Exec(ctx, query, syncID, tenantID, status); err != nil {
		return &models.PersistenceError{Op: "append status history", Err: err}
	}
	return nil
}

// AppendError добавляет ошибку по отдельной записи
func (r *SyncStorage) AppendError(ctx context.Context, syncID string, tenantID string, syncErr models.SyncError) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.job_errors (id, sync_id, tenant_id, external_id, sku, message, code, retryable, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := executor.Exec(ctx, query, uuid.New().String(), syncID, tenantID,
		syncErr.ExternalID, syncErr.SKU, syncErr.Message, syncErr.Code, syncErr.Retryable, syncErr.OccurredAt)
	if err != nil {
		return &models.PersistenceError{Op: "append error", Err: err}
	}
	return nil
}

// SaveResult сохраняет итог выполнения задачи
func (r *SyncStorage) SaveResult(ctx context.Context, tenantID string, result *models.ProductSyncJobResult) error {
	executor := r.getExecutor(ctx)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	query := `
		INSERT INTO sync.job_results (sync_id, tenant_id, result, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (sync_id, tenant_id)
		DO UPDATE SET result = $3
	`

	if _, err := executor.Exec(ctx, query, result.SyncID, tenantID, resultJSON); err != nil {
		return &models.PersistenceError{Op: "save result", Err: err}
	}
	return nil
}

// GetResult получает итог выполнения задачи по syncID
func (r *SyncStorage) GetResult(ctx context.Context, syncID string, tenantID string) (*models.ProductSyncJobResult, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT result
		FROM sync.job_results
		WHERE sync_id = $1 AND tenant_id = $2
	`

	var resultJSON []byte
	if err := executor.QueryRow(ctx, query, syncID, tenantID).Scan(&resultJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, &models.PersistenceError{Op: "get result", Err: err}
	}

	var result models.ProductSyncJobResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
	}
	return &result, nil
}

// RecordConflict сохраняет неразрешенный конфликт. Прежний неразрешенный
// конфликт по тому же товару удаляется: последний ожидающий выигрывает.
func (r *SyncStorage) RecordConflict(ctx context.Context, conflict *models.ProductConflict) error {
	executor := r.getExecutor(ctx)

	if conflict.ID == "" {
		conflict.ID = uuid.New().String()
	}

	fieldsJSON, err := json.Marshal(conflict.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict fields: %w", err)
	}

	deleteQuery := `
		DELETE FROM sync.conflicts
		WHERE tenant_id = $1 AND product_id = $2 AND source = $3 AND resolved = false
	`
	if _, err := executor.Exec(ctx, deleteQuery, conflict.TenantID, conflict.ProductID, conflict.Source); err != nil {
		return &models.PersistenceError{Op: "replace pending conflict", Err: err}
	}

	insertQuery := `
		INSERT INTO sync.conflicts (id, tenant_id, sync_id, product_id, external_id, sku, source,
			fields, suggested_resolution, detected_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
	`
	_, err = executor.Exec(ctx, insertQuery, conflict.ID, conflict.TenantID, conflict.SyncID,
		conflict.ProductID, conflict.ExternalID, conflict.SKU, conflict.Source,
		fieldsJSON, conflict.SuggestedResolution, conflict.DetectedAt)
	if err != nil {
		return &models.PersistenceError{Op: "record conflict", Err: err}
	}
	return nil
}

const conflictColumns = `id, tenant_id, sync_id, product_id, external_id, sku, source,
		fields, suggested_resolution, detected_at, resolved, resolved_at`

func scanConflict(row pgx.Row) (*models.ProductConflict, error) {
	var c models.ProductConflict
	var fieldsJSON []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.SyncID, &c.ProductID, &c.ExternalID, &c.SKU, &c.Source,
		&fieldsJSON, &c.SuggestedResolution, &c.DetectedAt, &c.Resolved, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &c.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict fields: %w", err)
	}
	return &c, nil
}

// GetConflict получает конфликт по ID
func (r *SyncStorage) GetConflict(ctx context.Context, conflictID string, tenantID string) (*models.ProductConflict, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT ` + conflictColumns + `
		FROM sync.conflicts
		WHERE id = $1 AND tenant_id = $2
	`

	conflict, err := scanConflict(executor.QueryRow(ctx, query, conflictID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrConflictNotFound
		}
		return nil, &models.PersistenceError{Op: "get conflict", Err: err}
	}
	return conflict, nil
}

// UpdateConflict перезаписывает снимок конфликта (снятие флага ожидания
// по полю после внешнего разрешения)
func (r *SyncStorage) UpdateConflict(ctx context.Context, conflict *models.ProductConflict) error {
	executor := r.getExecutor(ctx)

	fieldsJSON, err := json.Marshal(conflict.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict fields: %w", err)
	}

	query := `
		UPDATE sync.conflicts
		SET fields = $3, resolved = $4, resolved_at = $5
		WHERE id = $1 AND tenant_id = $2
	`

	tag, err := executor.Exec(ctx, query, conflict.ID, conflict.TenantID, fieldsJSON,
		conflict.Resolved, conflict.ResolvedAt)
	if err != nil {
		return &models.PersistenceError{Op: "update conflict", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflictNotFound
	}
	return nil
}

// ListPendingConflicts возвращает неразрешенные конфликты арендатора
func (r *SyncStorage) ListPendingConflicts(ctx context.Context, tenantID string, limit, offset int) ([]*models.ProductConflict, int, error) {
	executor := r.getExecutor(ctx)

	var total int
	countQuery := `SELECT COUNT(*) FROM sync.conflicts WHERE tenant_id = $1 AND resolved = false`
	if err := executor.QueryRow(ctx, countQuery, tenantID).Scan(&total); err != nil {
		return nil, 0, &models.PersistenceError{Op: "count conflicts", Err: err}
	}

	if total == 0 {
		return []*models.ProductConflict{}, 0, nil
	}

	query := `
		SELECT ` + conflictColumns + `
		FROM sync.conflicts
		WHERE tenant_id = $1 AND resolved = false
		ORDER BY detected_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := executor.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, &models.PersistenceError{Op: "list conflicts", Err: err}
	}
	defer rows.Close()

	var conflicts []*models.ProductConflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, 0, &models.PersistenceError{Op: "scan conflict row", Err: err}
		}
		conflicts = append(conflicts, conflict)
	}

	if rows.Err() != nil {
		return nil, 0, &models.PersistenceError{Op: "iterate conflict rows", Err: rows.Err()}
	}

	return conflicts, total, nil
}

// GetLastSyncTimestamp возвращает время последней успешной синхронизации
// для пары (tenant, source). Нулевое время, если синхронизаций еще не было.
func (r *SyncStorage) GetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource) (time.Time, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT last_sync_at
		FROM sync.last_sync
		WHERE tenant_id = $1 AND source = $2
	`

	var ts time.Time
	if err := executor.QueryRow(ctx, query, tenantID, source).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, &models.PersistenceError{Op: "get last sync timestamp", Err: err}
	}
	return ts, nil
}

// SetLastSyncTimestamp сохраняет время последней успешной синхронизации
func (r *SyncStorage) SetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource, ts time.Time) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.last_sync (tenant_id, source, last_sync_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, source)
		DO UPDATE SET last_sync_at = GREATEST(sync.last_sync.last_sync_at, EXCLUDED.last_sync_at)
	`

	if _, err := executor.Exec(ctx, query, tenantID, source, ts); err != nil {
		return &models.PersistenceError{Op: "set last sync timestamp", Err: err}
	}
	return nil
}

// SaveCursor сохраняет курсор возобновления для задачи
func (r *SyncStorage) SaveCursor(ctx context.Context, syncID string, tenantID string, cursor string) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.cursors (sync_id, tenant_id, cursor, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (sync_id, tenant_id)
		DO UPDATE SET cursor = $3, updated_at = now()
	`

	if _, err := executor.Exec(ctx, query, syncID, tenantID, cursor); err != nil {
		return &models.PersistenceError{Op: "save cursor", Err: err}
	}
	return nil
}

// GetCursor возвращает сохраненный курсор задачи; пустая строка, если
// курсора нет (задача начинается с первой страницы)
func (r *SyncStorage) GetCursor(ctx context.Context, syncID string, tenantID string) (string, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT cursor
		FROM sync.cursors
		WHERE sync_id = $1 AND tenant_id = $2
	`

	var cursor string
	if err := executor.QueryRow(ctx, query, syncID, tenantID).Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", &models.PersistenceError{Op: "get cursor", Err: err}
	}
	return cursor, nil
}
