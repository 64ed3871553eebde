package sources

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

// RecordIterator представляет ленивую конечную последовательность сырых
// записей источника. Итератор возобновляем: Cursor() возвращает позицию
// после последней успешно отданной страницы, и она же принимается при
// создании итератора, чтобы упавшая задача продолжила с того же места.
type RecordIterator interface {
	// Next возвращает следующую запись. ok=false означает конец
	// последовательности; ошибка завершает итерацию.
	Next(ctx context.Context) (record *models.RawProductRecord, ok bool, err error)

	// Cursor возвращает курсор возобновления после последней успешной страницы
	Cursor() string

	// Close освобождает ресурсы итератора
	Close()
}

// SourceAdapter определяет набор способностей адаптера источника каталога.
// Одна реализация на вариант ProductSyncSource, разрешение через Registry.
// Адаптер сам управляет backoff при временных сбоях; фатальные ошибки
// (авторизация, некорректная конфигурация) возвращаются как
// AdapterError{Retryable: false} и прерывают задачу.
type SourceAdapter interface {
	// Source возвращает вариант источника, который обслуживает адаптер
	Source() models.ProductSyncSource

	// ListAll возвращает последовательность всех записей каталога,
	// ограниченную фильтром и maxPages конфигурации. cursor — позиция
	// возобновления; пустая строка начинает с первой страницы.
	ListAll(ctx context.Context, filter *models.SyncFilter, cursor string) (RecordIterator, error)

	// ListDelta возвращает записи, измененные после since
	ListDelta(ctx context.Context, since time.Time, cursor string) (RecordIterator, error)

	// FetchInventory возвращает отображение externalId -> остаток
	// для точечного обновления инвентаря
	FetchInventory(ctx context.Context, externalIDs []string) (map[string]int, error)
}

// AdapterFactory создает адаптер для конкретной конфигурации источника
type AdapterFactory func(cfg models.SourceConfig, logger interfaces.LoggerPort) (SourceAdapter, error)

// Registry хранит фабрики адаптеров по ключу источника.
// Избегаем иерархии наследования: один реестр, один вариант на источник.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ProductSyncSource]AdapterFactory
}

// NewRegistry создает пустой реестр адаптеров
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[models.ProductSyncSource]AdapterFactory),
	}
}

// Register регистрирует фабрику для источника; повторная регистрация
// замещает предыдущую
func (r *Registry) Register(source models.ProductSyncSource, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[source] = factory
}

// Resolve создает адаптер для источника с переданной конфигурацией
func (r *Registry) Resolve(source models.ProductSyncSource, cfg models.SourceConfig, logger interfaces.LoggerPort) (SourceAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[source]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownSource, source)
	}
	return factory(cfg, logger)
}

// DefaultRegistry возвращает реестр со всеми поддерживаемыми источниками.
// Маркетплейсы обслуживаются общим постраничным REST-клиентом, каждый со
// своим профилем отображения полей.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	for source, profile := range restProfiles {
		src, prof := source, profile
		r.Register(src, func(cfg models.SourceConfig, logger interfaces.LoggerPort) (SourceAdapter, error) {
			return newRESTAdapter(src, prof, cfg, logger)
		})
	}

	return r
}

// sliceIterator отдает заранее собранный срез записей. Используется
// webhook- и manual-адаптерами, где пагинации нет.
type sliceIterator struct {
	records []*models.RawProductRecord
	idx     int
}

// newSliceIterator создает итератор среза с позиции cursor.
// Курсор — число уже отданных записей, как его возвращает Cursor().
func newSliceIterator(source models.ProductSyncSource, records []*models.RawProductRecord, cursor string) (*sliceIterator, error) {
	it := &sliceIterator{records: records}
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 0 || parsed > len(records) {
			return nil, &models.AdapterError{
				Source:    source,
				Op:        "resume",
				Retryable: false,
				Err:       fmt.Errorf("некорректный курсор возобновления %q", cursor),
			}
		}
		it.idx = parsed
	}
	return it, nil
}

func (it *sliceIterator) Next(ctx context.Context) (*models.RawProductRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if it.idx >= len(it.records) {
		return nil, false, nil
	}
	rec := it.records[it.idx]
	it.idx++
	return rec, true, nil
}

func (it *sliceIterator) Cursor() string {
	return fmt.Sprintf("%d", it.idx)
}

func (it *sliceIterator) Close() {}
