package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func (l nopLogger) WithFields(fields ...interfaces.LogField) interfaces.LoggerPort { return l }
func (l nopLogger) WithField(key string, value interface{}) interfaces.LoggerPort  { return l }
func (l nopLogger) WithTenant(tenantID string) interfaces.LoggerPort               { return l }
func (l nopLogger) WithSyncID(syncID string) interfaces.LoggerPort                 { return l }
func (nopLogger) Sync() error                                                      { return nil }

func catalogPage(page, total int) map[string]interface{} {
	items := make([]map[string]interface{}, 0, 2)
	for i := 0; i < 2; i++ {
		n := (page-1)*2 + i + 1
		items = append(items, map[string]interface{}{
			"external_id": fmt.Sprintf("ext-%d", n),
			"sku":         fmt.Sprintf("SKU-%d", n),
			"price":       "9.99",
		})
	}
	return map[string]interface{}{
		"items":    items,
		"has_more": page < total,
	}
}

func newTestAdapter(t *testing.T, source models.ProductSyncSource, endpoint string) *restAdapter {
	t.Helper()
	adapter, err := newRESTAdapter(source, restProfiles[source], models.SourceConfig{
		Endpoint: endpoint,
		APIKey:   "secret-key",
		PageSize: 2,
	}, nopLogger{})
	require.NoError(t, err)
	return adapter
}

func drain(t *testing.T, it RecordIterator) []*models.RawProductRecord {
	t.Helper()
	var records []*models.RawProductRecord
	for {
		rec, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return records
		}
		records = append(records, rec)
	}
}

func TestRESTAdapterPaginatesCatalog(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		_ = json.NewEncoder(w).Encode(catalogPage(page, 3))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()

	records := drain(t, it)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"1", "2", "3"}, pages)
	assert.Equal(t, "ext-1", records[0].Data["external_id"])
	assert.Equal(t, "ext-6", records[5].Data["external_id"])
	assert.Equal(t, models.SourceCustom, records[0].Source)
	// после исчерпания курсор указывает на первую незагруженную страницу
	assert.Equal(t, "4", it.Cursor())
}

func TestRESTAdapterResumesFromCursor(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		_ = json.NewEncoder(w).Encode(catalogPage(page, 3))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "3")
	require.NoError(t, err)
	defer it.Close()

	records := drain(t, it)
	// страницы 1 и 2 уже были применены до сбоя
	assert.Len(t, records, 2)
	assert.Equal(t, []string{"3"}, pages)
}

func TestRESTAdapterRejectsMalformedCursor(t *testing.T) {
	adapter := newTestAdapter(t, models.SourceCustom, "http://catalog.local")

	_, err := adapter.ListAll(context.Background(), nil, "page-two")
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))

	_, err = adapter.ListAll(context.Background(), nil, "0")
	require.Error(t, err)
}

func TestRESTAdapterRetriesRateLimit(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(catalogPage(1, 1))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()

	records := drain(t, it)
	assert.Len(t, records, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestRESTAdapterGivesUpAfterRetries(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)
	adapter.maxRetries = 1

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()

	_, _, err = it.Next(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	// первая попытка плюс один повтор
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestRESTAdapterAuthFailureIsFatal(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()

	_, _, err = it.Next(context.Background())
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err), "ошибка авторизации не повторяется")
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "фатальная ошибка без повторов")
}

func TestRESTAdapterSendsAuthHeader(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(catalogPage(1, 1))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()
	drain(t, it)

	assert.Equal(t, "Bearer secret-key", gotHeader)
}

func TestRESTAdapterMapsShopifyFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{
					"id":        "shop-1",
					"sku":       "SKU-1",
					"title":     "Widget",
					"body_html": "<p>Widget</p>",
					"price":     "10.00",
				},
			},
			"has_more": false,
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceShopify, server.URL)

	it, err := adapter.ListAll(context.Background(), nil, "")
	require.NoError(t, err)
	defer it.Close()

	records := drain(t, it)
	require.Len(t, records, 1)
	data := records[0].Data
	assert.Equal(t, "shop-1", data["external_id"])
	assert.Equal(t, "Widget", data["name"])
	assert.Equal(t, "<p>Widget</p>", data["description"])
	assert.NotContains(t, data, "id")
	assert.NotContains(t, data, "title")
}

func TestRESTAdapterListDeltaPassesSince(t *testing.T) {
	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("updated_at_min")
		_ = json.NewEncoder(w).Encode(catalogPage(1, 1))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	it, err := adapter.ListDelta(context.Background(), since, "")
	require.NoError(t, err)
	defer it.Close()
	drain(t, it)

	assert.Equal(t, "2026-08-01T00:00:00Z", gotSince)
}

func TestRESTAdapterFetchInventory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ext-1,ext-2", r.URL.Query().Get("ids"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"external_id": "ext-1", "quantity": 5},
				{"external_id": "ext-2", "quantity": 0},
			},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(t, models.SourceCustom, server.URL)

	quantities, err := adapter.FetchInventory(context.Background(), []string{"ext-1", "ext-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ext-1": 5, "ext-2": 0}, quantities)
}

func TestRESTAdapterRequiresEndpoint(t *testing.T) {
	_, err := newRESTAdapter(models.SourceCustom, restProfiles[models.SourceCustom], models.SourceConfig{}, nopLogger{})
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))
}

func TestRegistryResolvesKnownSources(t *testing.T) {
	registry := DefaultRegistry()

	for _, source := range []models.ProductSyncSource{
		models.SourceShopify,
		models.SourceWooCommerce,
		models.SourceBigCommerce,
		models.SourceMagento,
		models.SourceCustom,
	} {
		adapter, err := registry.Resolve(source, models.SourceConfig{Endpoint: "http://catalog.local"}, nopLogger{})
		require.NoError(t, err, "source %s", source)
		assert.Equal(t, source, adapter.Source())
	}

	_, err := registry.Resolve(models.ProductSyncSource("ftp"), models.SourceConfig{}, nopLogger{})
	assert.ErrorIs(t, err, models.ErrUnknownSource)
}
