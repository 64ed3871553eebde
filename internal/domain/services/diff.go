package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
)

// DiffAction определяет действие, которое оркестратор применяет к записи
type DiffAction string

const (
	ActionCreate DiffAction = "create"
	ActionUpdate DiffAction = "update"
	ActionSkip   DiffAction = "skip"
	ActionNoop   DiffAction = "noop"
)

// DiffOutcome — результат сверки одной канонической записи с локальной.
// Product содержит итоговое состояние для записи в хранилище (для create
// и update), Conflict — отложенные на ручное разрешение поля.
type DiffOutcome struct {
	Action        DiffAction
	Product       *models.LocalProduct
	AppliedFields []string
	SkippedFields []string
	Conflict      *models.ProductConflict
}

// fieldDiff описывает одно отслеживаемое поле: снимок значений и
// применение значения источника к локальной записи
type fieldDiff struct {
	name        string
	localValue  interface{}
	sourceValue interface{}
	equal       bool
	apply       func(*models.LocalProduct)
}

// resolverFunc решает судьбу одного расходящегося поля:
// apply — применить значение источника, flag — отложить на ручное разрешение
type resolverFunc func(local *models.LocalProduct, incoming *models.NormalizedProduct) (apply bool, flag bool)

// strategyTable — полная таблица стратегий разрешения. Неизвестная
// стратегия не должна встречаться; если встретилась, поле уходит
// в FLAG_FOR_REVIEW как безопасное поведение по умолчанию.
var strategyTable = map[models.ConflictStrategy]resolverFunc{
	models.StrategySourceWins: func(_ *models.LocalProduct, _ *models.NormalizedProduct) (bool, bool) {
		return true, false
	},
	models.StrategyLocalWins: func(_ *models.LocalProduct, _ *models.NormalizedProduct) (bool, bool) {
		return false, false
	},
	models.StrategyNewestWins: func(local *models.LocalProduct, incoming *models.NormalizedProduct) (bool, bool) {
		// при равенстве отметок побеждает источник
		return !incoming.UpdatedAt.Before(local.UpdatedAt), false
	},
	models.StrategyFlagForReview: func(_ *models.LocalProduct, _ *models.NormalizedProduct) (bool, bool) {
		return false, true
	},
}

// DiffEngine вычисляет пополевую сверку канонической записи с локальной
// и разрешает расхождения согласно стратегии задачи. Чистая логика без
// ввода-вывода: применение результата — обязанность оркестратора.
type DiffEngine struct{}

func NewDiffEngine() *DiffEngine {
	return &DiffEngine{}
}

// Diff сверяет каноническую запись с локальной. local == nil означает
// отсутствие локальной записи: в массовых режимах это создание, в режимах
// INVENTORY_ONLY/PRICES_ONLY запись пропускается и никогда не создается.
// Каждое расходящееся поле разрешается независимо: часть полей может быть
// применена, часть отложена в конфликт за один проход.
func (e *DiffEngine) Diff(job *models.SyncJob, local *models.LocalProduct, incoming *models.NormalizedProduct) *DiffOutcome {
	if local == nil {
		if job.Mode == models.SyncModeInventoryOnly || job.Mode == models.SyncModePricesOnly {
			return &DiffOutcome{Action: ActionSkip}
		}
		return &DiffOutcome{
			Action:  ActionCreate,
			Product: newLocalProduct(job.TenantID, incoming),
		}
	}

	diffs := trackedFields(local, incoming, fieldSetForMode(job.Mode, incoming))

	resolver, known := strategyTable[job.ConflictResolution]
	if !known {
		resolver = strategyTable[models.StrategyFlagForReview]
	}

	merged := *local
	outcome := &DiffOutcome{Action: ActionNoop}
	var flagged []models.ConflictField

	for _, d := range diffs {
		if d.equal {
			continue
		}
		apply, flag := resolver(local, incoming)
		switch {
		case flag:
			flagged = append(flagged, models.ConflictField{
				Field:           d.name,
				LocalValue:      d.localValue,
				SourceValue:     d.sourceValue,
				LocalUpdatedAt:  local.UpdatedAt,
				SourceUpdatedAt: incoming.UpdatedAt,
			})
		case apply:
			d.apply(&merged)
			outcome.AppliedFields = append(outcome.AppliedFields, d.name)
		default:
			outcome.SkippedFields = append(outcome.SkippedFields, d.name)
		}
	}

	if len(outcome.AppliedFields) > 0 {
		merged.UpdatedAt = incoming.UpdatedAt
		if merged.UpdatedAt.IsZero() {
			merged.UpdatedAt = time.Now().UTC()
		}
		outcome.Action = ActionUpdate
		outcome.Product = &merged
	}

	if len(flagged) > 0 {
		outcome.Conflict = &models.ProductConflict{
			ID:                  uuid.NewString(),
			TenantID:            job.TenantID,
			SyncID:              job.SyncID,
			ProductID:           local.ID,
			ExternalID:          incoming.ExternalID,
			SKU:                 incoming.SKU,
			Source:              incoming.Source,
			Fields:              flagged,
			SuggestedResolution: suggestResolution(local, incoming),
			DetectedAt:          time.Now().UTC(),
		}
	}

	return outcome
}

// fieldSetForMode возвращает множество отслеживаемых полей для режима.
// DELTA ограничивается полями, присутствующими в дельта-нагрузке.
func fieldSetForMode(mode models.SyncMode, incoming *models.NormalizedProduct) map[string]bool {
	switch mode {
	case models.SyncModeInventoryOnly:
		return map[string]bool{"inventory_quantity": true}
	case models.SyncModePricesOnly:
		return map[string]bool{"price": true, "compare_at_price": true}
	case models.SyncModeDelta:
		return deltaFieldSet(incoming.RawData)
	default:
		return nil // nil означает все отслеживаемые поля
	}
}

// rawFieldKeys отображает каноническое имя поля в ключ сырой записи
var rawFieldKeys = map[string]string{
	"name":               "name",
	"description":        "description",
	"price":              "price",
	"compare_at_price":   "compare_at_price",
	"currency":           "currency",
	"inventory_quantity": "quantity",
	"status":             "status",
}

func deltaFieldSet(rawData json.RawMessage) map[string]bool {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rawData, &raw); err != nil {
		return nil
	}
	set := make(map[string]bool, len(rawFieldKeys))
	for field, key := range rawFieldKeys {
		if _, ok := raw[key]; ok {
			set[field] = true
		}
	}
	return set
}

func trackedFields(local *models.LocalProduct, incoming *models.NormalizedProduct, allowed map[string]bool) []fieldDiff {
	all := []fieldDiff{
		{
			name:        "name",
			localValue:  local.Name,
			sourceValue: incoming.Name,
			equal:       local.Name == incoming.Name,
			apply:       func(p *models.LocalProduct) { p.Name = incoming.Name },
		},
		{
			name:        "description",
			localValue:  local.Description,
			sourceValue: incoming.Description,
			equal:       local.Description == incoming.Description,
			apply:       func(p *models.LocalProduct) { p.Description = incoming.Description },
		},
		{
			name:        "price",
			localValue:  local.Price.String(),
			sourceValue: incoming.Price.String(),
			equal:       local.Price.Equal(incoming.Price),
			apply:       func(p *models.LocalProduct) { p.Price = incoming.Price },
		},
		{
			name:        "compare_at_price",
			localValue:  decimalPtrValue(local.CompareAtPrice),
			sourceValue: decimalPtrValue(incoming.CompareAtPrice),
			equal:       decimalPtrEqual(local.CompareAtPrice, incoming.CompareAtPrice),
			apply:       func(p *models.LocalProduct) { p.CompareAtPrice = incoming.CompareAtPrice },
		},
		{
			name:        "currency",
			localValue:  local.Currency,
			sourceValue: incoming.Currency,
			equal:       local.Currency == incoming.Currency,
			apply:       func(p *models.LocalProduct) { p.Currency = incoming.Currency },
		},
		{
			name:        "inventory_quantity",
			localValue:  local.InventoryQuantity,
			sourceValue: incoming.InventoryQuantity,
			equal:       local.InventoryQuantity == incoming.InventoryQuantity,
			apply:       func(p *models.LocalProduct) { p.InventoryQuantity = incoming.InventoryQuantity },
		},
		{
			name:        "status",
			localValue:  string(local.Status),
			sourceValue: string(incoming.Status),
			equal:       local.Status == incoming.Status,
			apply:       func(p *models.LocalProduct) { p.Status = incoming.Status },
		},
	}

	if allowed == nil {
		return all
	}
	filtered := all[:0]
	for _, d := range all {
		if allowed[d.name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func newLocalProduct(tenantID string, incoming *models.NormalizedProduct) *models.LocalProduct {
	now := time.Now().UTC()
	updatedAt := incoming.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	return &models.LocalProduct{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Source:            incoming.Source,
		ExternalID:        incoming.ExternalID,
		SKU:               incoming.SKU,
		Name:              incoming.Name,
		Description:       incoming.Description,
		Price:             incoming.Price,
		CompareAtPrice:    incoming.CompareAtPrice,
		Currency:          incoming.Currency,
		InventoryQuantity: incoming.InventoryQuantity,
		Status:            incoming.Status,
		BaseData:          incoming.RawData,
		CreatedAt:         now,
		UpdatedAt:         updatedAt,
	}
}

func suggestResolution(local *models.LocalProduct, incoming *models.NormalizedProduct) models.ConflictStrategy {
	if incoming.UpdatedAt.Before(local.UpdatedAt) {
		return models.StrategyLocalWins
	}
	return models.StrategySourceWins
}

func decimalPtrValue(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
