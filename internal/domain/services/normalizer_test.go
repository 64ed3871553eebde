package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
)

func rawRecord(data map[string]interface{}) *models.RawProductRecord {
	return &models.RawProductRecord{Source: models.SourceShopify, Data: data}
}

func TestNormalizeBasicRecord(t *testing.T) {
	n := NewNormalizer("USD")

	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"name":        "  Widget  ",
		"price":       19.999,
		"quantity":    7,
		"status":      "active",
		"currency":    "eur",
		"updated_at":  "2026-08-01T12:00:00Z",
	}), "")
	require.NoError(t, err)

	assert.Equal(t, "ext-1", product.ExternalID)
	assert.Equal(t, "SKU-1", product.SKU)
	assert.Equal(t, "Widget", product.Name)
	assert.Equal(t, models.SourceShopify, product.Source)
	assert.Equal(t, "EUR", product.Currency)
	assert.Equal(t, 7, product.InventoryQuantity)
	assert.Equal(t, models.ProductStatusActive, product.Status)
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), product.UpdatedAt)
}

func TestNormalizeRoundsPriceHalfUp(t *testing.T) {
	n := NewNormalizer("USD")

	cases := []struct {
		raw  interface{}
		want string
	}{
		{10.005, "10.01"},
		{"10.004", "10"},
		{"10.995", "11"},
		{19.99, "19.99"},
		{0, "0"},
	}
	for _, tc := range cases {
		product, err := n.Normalize(rawRecord(map[string]interface{}{
			"external_id": "ext-1",
			"sku":         "SKU-1",
			"price":       tc.raw,
		}), "")
		require.NoError(t, err)
		assert.Equal(t, tc.want, product.Price.String(), "price %v", tc.raw)
	}
}

func TestNormalizeRejectsNegativePrice(t *testing.T) {
	n := NewNormalizer("USD")

	_, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       "-5.00",
	}), "")
	require.Error(t, err)

	nerr, ok := err.(*models.NormalizationError)
	require.True(t, ok)
	assert.Equal(t, "price", nerr.Field)
	assert.Equal(t, "ext-1", nerr.ExternalID)
}

func TestNormalizeRequiresIdentity(t *testing.T) {
	n := NewNormalizer("USD")

	_, err := n.Normalize(rawRecord(map[string]interface{}{
		"sku":   "SKU-1",
		"price": 1,
	}), "")
	require.Error(t, err)
	assert.Equal(t, "external_id", err.(*models.NormalizationError).Field)

	_, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "   ",
		"price":       1,
	}), "")
	require.Error(t, err)
	assert.Equal(t, "sku", err.(*models.NormalizationError).Field)
}

func TestNormalizeStatusDefaultsToActive(t *testing.T) {
	n := NewNormalizer("USD")

	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
	}), "")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusActive, product.Status)

	_, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
		"status":      "discontinued",
	}), "")
	require.Error(t, err)
	assert.Equal(t, "status", err.(*models.NormalizationError).Field)
}

func TestNormalizeCurrencyPrecedence(t *testing.T) {
	n := NewNormalizer("usd")

	// валюта записи важнее конфигурации источника
	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
		"currency":    "gbp",
	}), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "GBP", product.Currency)

	// конфигурация источника важнее валюты по умолчанию
	product, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
	}), "EUR")
	require.NoError(t, err)
	assert.Equal(t, "EUR", product.Currency)

	// без обеих остается валюта по умолчанию
	product, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
	}), "")
	require.NoError(t, err)
	assert.Equal(t, "USD", product.Currency)
}

func TestNormalizeClampsNegativeQuantity(t *testing.T) {
	n := NewNormalizer("USD")

	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       1,
		"quantity":    -3,
	}), "")
	require.NoError(t, err)
	assert.Equal(t, 0, product.InventoryQuantity)
}

func TestNormalizeCompareAtPrice(t *testing.T) {
	n := NewNormalizer("USD")

	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id":      "ext-1",
		"sku":              "SKU-1",
		"price":            10,
		"compare_at_price": "12.505",
	}), "")
	require.NoError(t, err)
	require.NotNil(t, product.CompareAtPrice)
	assert.True(t, product.CompareAtPrice.Equal(decimal.RequireFromString("12.51")))

	product, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       10,
	}), "")
	require.NoError(t, err)
	assert.Nil(t, product.CompareAtPrice)
}

func TestNormalizeVariants(t *testing.T) {
	n := NewNormalizer("USD")

	product, err := n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       10,
		"variants": []interface{}{
			map[string]interface{}{"sku": "SKU-1-S", "price": 9.99, "quantity": 2},
			map[string]interface{}{"sku": "SKU-1-L", "price": "11.504", "quantity": -1},
		},
	}), "")
	require.NoError(t, err)
	require.Len(t, product.Variants, 2)
	assert.Equal(t, "SKU-1-S", product.Variants[0].SKU)
	assert.Equal(t, 2, product.Variants[0].InventoryQuantity)
	assert.Equal(t, "11.5", product.Variants[1].Price.String())
	assert.Equal(t, 0, product.Variants[1].InventoryQuantity)

	// вариант без sku отвергает запись целиком
	_, err = n.Normalize(rawRecord(map[string]interface{}{
		"external_id": "ext-1",
		"sku":         "SKU-1",
		"price":       10,
		"variants": []interface{}{
			map[string]interface{}{"price": 9.99},
		},
	}), "")
	require.Error(t, err)
	assert.Equal(t, "variants.sku", err.(*models.NormalizationError).Field)
}
