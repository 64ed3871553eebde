package models

import (
	"fmt"
	"time"
)

// ProductSyncSource определяет внешний источник каталога
type ProductSyncSource string

const (
	SourceShopify     ProductSyncSource = "shopify"
	SourceWooCommerce ProductSyncSource = "woocommerce"
	SourceBigCommerce ProductSyncSource = "bigcommerce"
	SourceMagento     ProductSyncSource = "magento"
	SourceCustom      ProductSyncSource = "custom"
	SourceWebhook     ProductSyncSource = "webhook"
	SourceManual      ProductSyncSource = "manual"
)

// SyncMode определяет объем синхронизации
type SyncMode string

const (
	SyncModeFull          SyncMode = "FULL"
	SyncModeDelta         SyncMode = "DELTA"
	SyncModeInventoryOnly SyncMode = "INVENTORY_ONLY"
	SyncModePricesOnly    SyncMode = "PRICES_ONLY"
)

// IsBulk возвращает true для режимов, требующих взаимного исключения
// по (tenant, source). Одиночные webhook-задачи исключаются отдельно:
// признаком служит полезная нагрузка события, а не режим.
func (m SyncMode) IsBulk() bool {
	return m == SyncModeFull || m == SyncModeDelta
}

// SyncStatus определяет состояние задачи синхронизации
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "PENDING"
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusCompleted SyncStatus = "COMPLETED"
	SyncStatusPartial   SyncStatus = "PARTIAL"
	SyncStatusFailed    SyncStatus = "FAILED"
)

// IsTerminal возвращает true, если задача завершена и более не изменяется
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusPartial || s == SyncStatusFailed
}

// ConflictStrategy определяет политику разрешения конфликтов по полям
type ConflictStrategy string

const (
	StrategySourceWins    ConflictStrategy = "SOURCE_WINS"
	StrategyLocalWins     ConflictStrategy = "LOCAL_WINS"
	StrategyNewestWins    ConflictStrategy = "NEWEST_WINS"
	StrategyFlagForReview ConflictStrategy = "FLAG_FOR_REVIEW"
)

// SourceConfig содержит параметры подключения к адаптеру источника.
// Секреты никогда не попадают в логи: используйте String().
type SourceConfig struct {
	Endpoint  string            `json:"endpoint"`
	APIKey    string            `json:"api_key,omitempty"`
	APISecret string            `json:"api_secret,omitempty"`
	Currency  string            `json:"currency,omitempty"` // валюта по умолчанию для источника
	PageSize  int               `json:"page_size,omitempty"`
	MaxPages  int               `json:"max_pages,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// String возвращает безопасное для логов представление конфигурации
func (c SourceConfig) String() string {
	return fmt.Sprintf("SourceConfig{endpoint: %s, page_size: %d, max_pages: %d, credentials: [REDACTED]}",
		c.Endpoint, c.PageSize, c.MaxPages)
}

// SyncFilter ограничивает набор записей, запрашиваемых у источника
type SyncFilter struct {
	SKUs         []string   `json:"skus,omitempty"`
	ExternalIDs  []string   `json:"external_ids,omitempty"`
	Status       string     `json:"status,omitempty"`
	UpdatedAfter *time.Time `json:"updated_after,omitempty"`
}

// ProductSyncJobData описывает запрос на создание задачи синхронизации.
// Приходит от внешнего диспетчера (планировщик, ручной запуск, webhook).
type ProductSyncJobData struct {
	// SyncID задается только в командах возобновления: вместо новой задачи
	// продолжается незавершенная с сохраненного курсора
	SyncID             string            `json:"sync_id,omitempty"`
	TenantID           string            `json:"tenant_id"`
	Source             ProductSyncSource `json:"source"`
	Mode               SyncMode          `json:"mode"`
	ConflictResolution ConflictStrategy  `json:"conflict_resolution,omitempty"`
	SourceConfig       SourceConfig      `json:"source_config"`
	Filter             *SyncFilter       `json:"filter,omitempty"`
	WebhookData        *WebhookEvent     `json:"webhook_data,omitempty"`
	// ManualRecords — записи, переданные напрямую в задаче для источника manual
	ManualRecords []map[string]interface{} `json:"manual_records,omitempty"`
}

// SyncJob представляет задачу синхронизации каталога.
// После перехода в терминальный статус запись неизменяема, история статусов
// хранится отдельно (append-only).
type SyncJob struct {
	SyncID             string            `json:"sync_id"`
	TenantID           string            `json:"tenant_id"`
	Source             ProductSyncSource `json:"source"`
	Mode               SyncMode          `json:"mode"`
	ConflictResolution ConflictStrategy  `json:"conflict_resolution"`
	SourceConfig       SourceConfig      `json:"source_config"`
	Filter             *SyncFilter       `json:"filter,omitempty"`
	WebhookData        *WebhookEvent     `json:"webhook_data,omitempty"`
	ManualRecords      []map[string]interface{} `json:"manual_records,omitempty"`
	Status             SyncStatus        `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	StartedAt          time.Time         `json:"started_at,omitempty"`
	FinishedAt         time.Time         `json:"finished_at,omitempty"`
}

// SyncStats содержит счетчики по задаче. Изменяются только оркестратором,
// монотонно в пределах одной задачи.
type SyncStats struct {
	Total            int `json:"total"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Skipped          int `json:"skipped"`
	Deleted          int `json:"deleted"`
	Errors           int `json:"errors"`
	Conflicts        int `json:"conflicts"`
	InventoryUpdates int `json:"inventory_updates"`
	PriceUpdates     int `json:"price_updates"`
}

// SyncError описывает ошибку по отдельной записи. Записи добавляются,
// но никогда не перезаписываются.
type SyncError struct {
	ExternalID string    `json:"external_id,omitempty"`
	SKU        string    `json:"sku,omitempty"`
	Message    string    `json:"message"`
	Code       string    `json:"code"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ProductSyncJobResult представляет итог выполнения задачи синхронизации
type ProductSyncJobResult struct {
	Success             bool               `json:"success"`
	SyncID              string             `json:"sync_id"`
	Status              SyncStatus         `json:"status"`
	Stats               SyncStats          `json:"stats"`
	Errors              []SyncError        `json:"errors,omitempty"`
	Conflicts           []*ProductConflict `json:"conflicts,omitempty"`
	DurationMs          int64              `json:"duration_ms"`
	LastSyncAt          time.Time          `json:"last_sync_at"`
	NextSyncRecommended time.Time          `json:"next_sync_recommended"`
}
