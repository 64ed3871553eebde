package models

import "time"

// ConflictField представляет расхождение по одному полю.
// Снимок значений неизменяем с момента обнаружения.
type ConflictField struct {
	Field           string      `json:"field"`
	LocalValue      interface{} `json:"local_value"`
	SourceValue     interface{} `json:"source_value"`
	LocalUpdatedAt  time.Time   `json:"local_updated_at"`
	SourceUpdatedAt time.Time   `json:"source_updated_at"`
}

// ProductConflict представляет неразрешенный конфликт по товару.
// Создается только когда поле действительно расходится и политика
// FLAG_FOR_REVIEW (или стратегия не смогла определить победителя).
// Живет до явного разрешения внешним актором; новый конфликт по тому же
// полю замещает предыдущий неразрешенный.
type ProductConflict struct {
	ID                  string            `json:"id"`
	TenantID            string            `json:"tenant_id"`
	SyncID              string            `json:"sync_id"`
	ProductID           string            `json:"product_id"`
	ExternalID          string            `json:"external_id"`
	SKU                 string            `json:"sku,omitempty"`
	Source              ProductSyncSource `json:"source"`
	Fields              []ConflictField   `json:"fields"`
	SuggestedResolution ConflictStrategy  `json:"suggested_resolution"`
	DetectedAt          time.Time         `json:"detected_at"`
	Resolved            bool              `json:"resolved"`
	ResolvedAt          *time.Time        `json:"resolved_at,omitempty"`
}

// ConflictResolutionRequest описывает внешнее действие разрешения конфликта:
// выбранное значение применяется к полю, флаг ожидания снимается
type ConflictResolutionRequest struct {
	Field       string      `json:"field"`
	ChosenValue interface{} `json:"chosen_value"`
	ResolvedBy  string      `json:"resolved_by,omitempty"`
}
