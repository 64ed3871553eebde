package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/adapters/storage"
	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// nopLogger реализует LoggerPort без вывода
type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

func (nopLogger) DebugWithContext(ctx context.Context, msg string, args ...interface{}) {}
func (nopLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) WarnWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) ErrorWithContext(ctx context.Context, msg string, args ...interface{}) {}

func (l nopLogger) WithFields(fields ...interfaces.LogField) interfaces.LoggerPort  { return l }
func (l nopLogger) WithField(key string, value interface{}) interfaces.LoggerPort   { return l }
func (l nopLogger) WithTenant(tenantID string) interfaces.LoggerPort                { return l }
func (l nopLogger) WithSyncID(syncID string) interfaces.LoggerPort                  { return l }
func (nopLogger) Sync() error                                                       { return nil }

// fakeStorage — потокобезопасное хранилище в памяти, реализующее
// SyncStoragePort. Транзакции не моделируются: Begin/Commit/Rollback
// только считают вызовы.
type fakeStorage struct {
	mu sync.Mutex

	products  map[string]*models.LocalProduct // ключ tenant|source|externalId
	bySKU     map[string]*models.LocalProduct // ключ tenant|sku
	jobs      map[string]*models.SyncJob
	statuses  map[string][]models.SyncStatus
	jobErrors map[string][]models.SyncError
	results   map[string]*models.ProductSyncJobResult
	conflicts map[string]*models.ProductConflict
	lastSync  map[string]time.Time
	cursors   map[string]string

	upserts   int
	commits   int
	rollbacks int

	// failUpsertFor имитирует оптимистический пропуск для externalId
	failUpsertFor map[string]bool
	// upsertErr заставляет UpsertProduct вернуть ошибку
	upsertErr error
	// saveJobErr заставляет SaveJob вернуть ошибку
	saveJobErr error
	// upsertStarted получает сигнал перед каждым UpsertProduct
	upsertStarted chan struct{}
	// upsertGate блокирует UpsertProduct до закрытия канала
	upsertGate chan struct{}
}

var _ storage.SyncStoragePort = (*fakeStorage)(nil)

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		products:      make(map[string]*models.LocalProduct),
		bySKU:         make(map[string]*models.LocalProduct),
		jobs:          make(map[string]*models.SyncJob),
		statuses:      make(map[string][]models.SyncStatus),
		jobErrors:     make(map[string][]models.SyncError),
		results:       make(map[string]*models.ProductSyncJobResult),
		conflicts:     make(map[string]*models.ProductConflict),
		lastSync:      make(map[string]time.Time),
		cursors:       make(map[string]string),
		failUpsertFor: make(map[string]bool),
	}
}

func productKey(tenantID string, source models.ProductSyncSource, externalID string) string {
	return tenantID + "|" + string(source) + "|" + externalID
}

func (f *fakeStorage) seed(product *models.LocalProduct) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[productKey(product.TenantID, product.Source, product.ExternalID)] = product
	f.bySKU[product.TenantID+"|"+product.SKU] = product
}

func (f *fakeStorage) FindBySourceAndExternalID(ctx context.Context, tenantID string, source models.ProductSyncSource, externalID string) (*models.LocalProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[productKey(tenantID, source, externalID)]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStorage) FindBySKU(ctx context.Context, tenantID string, sku string) (*models.LocalProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.bySKU[tenantID+"|"+sku]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeStorage) UpsertProduct(ctx context.Context, product *models.LocalProduct) (bool, error) {
	f.mu.Lock()
	started := f.upsertStarted
	gate := f.upsertGate
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	f.upserts++
	if f.failUpsertFor[product.ExternalID] {
		return false, nil
	}
	clone := *product
	f.products[productKey(product.TenantID, product.Source, product.ExternalID)] = &clone
	f.bySKU[product.TenantID+"|"+product.SKU] = &clone
	return true, nil
}

func (f *fakeStorage) SaveJob(ctx context.Context, job *models.SyncJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveJobErr != nil {
		return f.saveJobErr
	}
	f.jobs[job.SyncID] = job
	f.statuses[job.SyncID] = append(f.statuses[job.SyncID], job.Status)
	return nil
}

func (f *fakeStorage) GetJob(ctx context.Context, syncID string, tenantID string) (*models.SyncJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[syncID]
	if !ok || job.TenantID != tenantID {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStorage) UpdateJobStatus(ctx context.Context, syncID string, tenantID string, status models.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[syncID]; ok {
		job.Status = status
	}
	f.statuses[syncID] = append(f.statuses[syncID], status)
	return nil
}

func (f *fakeStorage) AppendError(ctx context.Context, syncID string, tenantID string, syncErr models.SyncError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobErrors[syncID] = append(f.jobErrors[syncID], syncErr)
	return nil
}

func (f *fakeStorage) SaveResult(ctx context.Context, tenantID string, result *models.ProductSyncJobResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[result.SyncID] = result
	return nil
}

func (f *fakeStorage) GetResult(ctx context.Context, syncID string, tenantID string) (*models.ProductSyncJobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.results[syncID]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return result, nil
}

func (f *fakeStorage) RecordConflict(ctx context.Context, conflict *models.ProductConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[conflict.ID] = conflict
	return nil
}

func (f *fakeStorage) GetConflict(ctx context.Context, conflictID string, tenantID string) (*models.ProductConflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conflict, ok := f.conflicts[conflictID]
	if !ok || conflict.TenantID != tenantID {
		return nil, nil
	}
	return conflict, nil
}

func (f *fakeStorage) UpdateConflict(ctx context.Context, conflict *models.ProductConflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[conflict.ID] = conflict
	return nil
}

func (f *fakeStorage) ListPendingConflicts(ctx context.Context, tenantID string, limit, offset int) ([]*models.ProductConflict, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*models.ProductConflict
	for _, c := range f.conflicts {
		if c.TenantID == tenantID && !c.Resolved {
			pending = append(pending, c)
		}
	}
	return pending, len(pending), nil
}

func (f *fakeStorage) GetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSync[tenantID+"|"+string(source)], nil
}

func (f *fakeStorage) SetLastSyncTimestamp(ctx context.Context, tenantID string, source models.ProductSyncSource, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSync[tenantID+"|"+string(source)] = ts
	return nil
}

func (f *fakeStorage) SaveCursor(ctx context.Context, syncID string, tenantID string, cursor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[syncID] = cursor
	return nil
}

func (f *fakeStorage) GetCursor(ctx context.Context, syncID string, tenantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[syncID], nil
}

func (f *fakeStorage) BeginTx(ctx context.Context) (context.Context, error) { return ctx, nil }

func (f *fakeStorage) CommitTx(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeStorage) RollbackTx(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

func (f *fakeStorage) Close() error { return nil }

// fakeBroker записывает опубликованные сообщения
type fakeBroker struct {
	mu       sync.Mutex
	messages []publishedMessage
}

type publishedMessage struct {
	topic string
	key   string
	body  []byte
}

func (b *fakeBroker) Publish(ctx context.Context, topic string, message []byte) error {
	return b.PublishWithKey(ctx, topic, "", message)
}

func (b *fakeBroker) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, publishedMessage{topic: topic, key: key, body: message})
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	return func() error { return nil }, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) published() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}
