package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus определяет статус товара в каталоге
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// RawProductRecord представляет сырую запись, полученную от адаптера источника.
// Адаптер обязан привести поля к общему контракту (external_id, sku, price и т.д.),
// нормализатор отвечает только за инварианты и типы.
type RawProductRecord struct {
	Source ProductSyncSource      `json:"source"`
	Data   map[string]interface{} `json:"data"`
}

// NormalizedProduct представляет каноническую, независимую от источника форму
// товара. Экземпляры эфемерны: создаются на запись и отбрасываются после diff.
// Инвариант: (ExternalID, Source) — ключ связи с локальной записью,
// SKU — запасной ключ сопоставления.
type NormalizedProduct struct {
	ExternalID        string              `json:"external_id"`
	Source            ProductSyncSource   `json:"source"`
	SKU               string              `json:"sku"`
	Name              string              `json:"name,omitempty"`
	Description       string              `json:"description,omitempty"`
	Price             decimal.Decimal     `json:"price"`
	CompareAtPrice    *decimal.Decimal    `json:"compare_at_price,omitempty"`
	Currency          string              `json:"currency"`
	InventoryQuantity int                 `json:"inventory_quantity"`
	Status            ProductStatus       `json:"status"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Variants          []NormalizedVariant `json:"variants,omitempty"`
	// RawData сохраняет исходную запись для аудита
	RawData json.RawMessage `json:"raw_data,omitempty"`
}

// NormalizedVariant представляет канонический вариант товара
type NormalizedVariant struct {
	ExternalID        string          `json:"external_id"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	InventoryQuantity int             `json:"inventory_quantity"`
}

// LocalProduct представляет локальную запись каталога, против которой
// выполняется сверка
type LocalProduct struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Source            ProductSyncSource `json:"source"`
	ExternalID        string            `json:"external_id"`
	SKU               string            `json:"sku"`
	Name              string            `json:"name,omitempty"`
	Description       string            `json:"description,omitempty"`
	Price             decimal.Decimal   `json:"price"`
	CompareAtPrice    *decimal.Decimal  `json:"compare_at_price,omitempty"`
	Currency          string            `json:"currency"`
	InventoryQuantity int               `json:"inventory_quantity"`
	Status            ProductStatus     `json:"status"`
	BaseData          json.RawMessage   `db:"base_data" json:"base_data,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}
