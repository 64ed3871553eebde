package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
)

const defaultCurrency = "USD"

// Normalizer приводит сырые записи источников к канонической форме.
// Чистое отображение без побочных эффектов: нарушение контракта дает
// NormalizationError, запись исключается из пакета, задача продолжается.
type Normalizer struct {
	// валюта по умолчанию, когда ни запись, ни конфигурация источника
	// ее не объявили
	fallbackCurrency string
}

// NewNormalizer создает нормализатор с валютой по умолчанию
func NewNormalizer(fallbackCurrency string) *Normalizer {
	if fallbackCurrency == "" {
		fallbackCurrency = defaultCurrency
	}
	return &Normalizer{fallbackCurrency: strings.ToUpper(fallbackCurrency)}
}

// Normalize преобразует сырую запись в каноническую форму товара.
// Инварианты: externalId и sku обязательны и непусты; цена неотрицательна
// и округлена до двух знаков (half-up); статус по умолчанию active.
func (n *Normalizer) Normalize(record *models.RawProductRecord, sourceCurrency string) (*models.NormalizedProduct, error) {
	data := record.Data

	externalID := strings.TrimSpace(stringField(data, "external_id"))
	sku := strings.TrimSpace(stringField(data, "sku"))

	if externalID == "" {
		return nil, &models.NormalizationError{
			SKU:    sku,
			Field:  "external_id",
			Reason: "required field is empty",
		}
	}
	if sku == "" {
		return nil, &models.NormalizationError{
			ExternalID: externalID,
			Field:      "sku",
			Reason:     "required field is empty",
		}
	}

	price, err := n.normalizePrice(data["price"], externalID, sku, "price")
	if err != nil {
		return nil, err
	}

	var compareAt *decimal.Decimal
	if raw, ok := data["compare_at_price"]; ok && raw != nil {
		p, err := n.normalizePrice(raw, externalID, sku, "compare_at_price")
		if err != nil {
			return nil, err
		}
		compareAt = &p
	}

	status, err := normalizeStatus(data["status"], externalID, sku)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(stringField(data, "currency")))
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(sourceCurrency))
	}
	if currency == "" {
		currency = n.fallbackCurrency
	}

	quantity := 0
	if raw, ok := data["quantity"]; ok {
		q, ok := intField(raw)
		if !ok {
			return nil, &models.NormalizationError{
				ExternalID: externalID,
				SKU:        sku,
				Field:      "quantity",
				Reason:     "not a number",
			}
		}
		if q < 0 {
			q = 0
		}
		quantity = q
	}

	updatedAt := timeField(data, "updated_at")

	variants, err := n.normalizeVariants(data["variants"], externalID, sku)
	if err != nil {
		return nil, err
	}

	// исходная запись сохраняется для аудита
	rawData, _ := json.Marshal(data)

	return &models.NormalizedProduct{
		ExternalID:        externalID,
		Source:            record.Source,
		SKU:               sku,
		Name:              strings.TrimSpace(stringField(data, "name")),
		Description:       stringField(data, "description"),
		Price:             price,
		CompareAtPrice:    compareAt,
		Currency:          currency,
		InventoryQuantity: quantity,
		Status:            status,
		UpdatedAt:         updatedAt,
		Variants:          variants,
		RawData:           rawData,
	}, nil
}

func (n *Normalizer) normalizePrice(raw interface{}, externalID, sku, field string) (decimal.Decimal, error) {
	price, ok := decimalField(raw)
	if !ok {
		return decimal.Zero, &models.NormalizationError{
			ExternalID: externalID,
			SKU:        sku,
			Field:      field,
			Reason:     "not a valid decimal",
		}
	}
	if price.IsNegative() {
		return decimal.Zero, &models.NormalizationError{
			ExternalID: externalID,
			SKU:        sku,
			Field:      field,
			Reason:     "negative price",
		}
	}
	// Round в shopspring/decimal округляет половину от нуля,
	// для неотрицательных цен это half-up
	return price.Round(2), nil
}

func (n *Normalizer) normalizeVariants(raw interface{}, externalID, sku string) ([]models.NormalizedVariant, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &models.NormalizationError{
			ExternalID: externalID,
			SKU:        sku,
			Field:      "variants",
			Reason:     "not a list",
		}
	}

	variants := make([]models.NormalizedVariant, 0, len(items))
	for _, item := range items {
		data, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		variantSKU := strings.TrimSpace(stringField(data, "sku"))
		if variantSKU == "" {
			return nil, &models.NormalizationError{
				ExternalID: externalID,
				SKU:        sku,
				Field:      "variants.sku",
				Reason:     "required field is empty",
			}
		}
		price, err := n.normalizePrice(data["price"], externalID, variantSKU, "variants.price")
		if err != nil {
			return nil, err
		}
		quantity, _ := intField(data["quantity"])
		if quantity < 0 {
			quantity = 0
		}
		variants = append(variants, models.NormalizedVariant{
			ExternalID:        strings.TrimSpace(stringField(data, "external_id")),
			SKU:               variantSKU,
			Price:             price,
			InventoryQuantity: quantity,
		})
	}
	return variants, nil
}

func normalizeStatus(raw interface{}, externalID, sku string) (models.ProductStatus, error) {
	s := ""
	if raw != nil {
		s, _ = raw.(string)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return models.ProductStatusActive, nil
	case string(models.ProductStatusActive):
		return models.ProductStatusActive, nil
	case string(models.ProductStatusDraft):
		return models.ProductStatusDraft, nil
	case string(models.ProductStatusArchived):
		return models.ProductStatusArchived, nil
	default:
		return "", &models.NormalizationError{
			ExternalID: externalID,
			SKU:        sku,
			Field:      "status",
			Reason:     "unknown status " + s,
		}
	}
}

func stringField(data map[string]interface{}, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return ""
	}
}

func intField(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return int(d.IntPart()), true
	default:
		return 0, false
	}
}

func decimalField(raw interface{}) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case nil:
		return decimal.Zero, true
	default:
		return decimal.Zero, false
	}
}

func timeField(data map[string]interface{}, key string) time.Time {
	raw, ok := data[key].(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
