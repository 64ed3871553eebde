package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/athebyme/gomarket-platform/sync-service/internal/domain/models"
	"github.com/athebyme/gomarket-platform/sync-service/pkg/interfaces"
)

const (
	defaultPageSize    = 100
	defaultMaxPages    = 1000
	defaultMaxRetries  = 3
	initialBackoff     = 500 * time.Millisecond
	maxBackoff         = 8 * time.Second
	defaultHTTPTimeout = 30 * time.Second
)

// restProfile описывает особенности API конкретного маркетплейса:
// пути ресурсов, заголовок авторизации и отображение полей ответа
// в общий контракт сырой записи. Полные протоколы вендоров живут за
// интеграционным шлюзом, здесь только унифицированный постраничный слой.
type restProfile struct {
	listPath      string
	inventoryPath string
	authHeader    string
	authScheme    string
	mapRecord     func(raw map[string]interface{}) map[string]interface{}
}

var restProfiles = map[models.ProductSyncSource]restProfile{
	models.SourceShopify: {
		listPath:      "/admin/api/products.json",
		inventoryPath: "/admin/api/inventory_levels.json",
		authHeader:    "X-Shopify-Access-Token",
		mapRecord:     mapShopifyRecord,
	},
	models.SourceWooCommerce: {
		listPath:      "/wp-json/wc/v3/products",
		inventoryPath: "/wp-json/wc/v3/products/inventory",
		authHeader:    "Authorization",
		authScheme:    "Basic",
		mapRecord:     mapWooRecord,
	},
	models.SourceBigCommerce: {
		listPath:      "/v3/catalog/products",
		inventoryPath: "/v3/catalog/inventory",
		authHeader:    "X-Auth-Token",
		mapRecord:     passthroughRecord,
	},
	models.SourceMagento: {
		listPath:      "/rest/V1/products",
		inventoryPath: "/rest/V1/stockItems",
		authHeader:    "Authorization",
		authScheme:    "Bearer",
		mapRecord:     mapMagentoRecord,
	},
	models.SourceCustom: {
		listPath:      "/api/products",
		inventoryPath: "/api/inventory",
		authHeader:    "Authorization",
		authScheme:    "Bearer",
		mapRecord:     passthroughRecord,
	},
}

// restAdapter — общий постраничный клиент каталога. Курсор возобновления —
// номер следующей страницы в виде строки.
type restAdapter struct {
	source     models.ProductSyncSource
	profile    restProfile
	cfg        models.SourceConfig
	client     *http.Client
	logger     interfaces.LoggerPort
	pageSize   int
	maxPages   int
	maxRetries int
}

func newRESTAdapter(source models.ProductSyncSource, profile restProfile, cfg models.SourceConfig, logger interfaces.LoggerPort) (*restAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, &models.AdapterError{
			Source:    source,
			Op:        "configure",
			Retryable: false,
			Err:       fmt.Errorf("endpoint источника не задан"),
		}
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, &models.AdapterError{
			Source:    source,
			Op:        "configure",
			Retryable: false,
			Err:       fmt.Errorf("некорректный endpoint: %w", err),
		}
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	return &restAdapter{
		source:     source,
		profile:    profile,
		cfg:        cfg,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger,
		pageSize:   pageSize,
		maxPages:   maxPages,
		maxRetries: defaultMaxRetries,
	}, nil
}

func (a *restAdapter) Source() models.ProductSyncSource {
	return a.source
}

func (a *restAdapter) ListAll(ctx context.Context, filter *models.SyncFilter, cursor string) (RecordIterator, error) {
	params := url.Values{}
	applyFilter(params, filter)
	return a.newIterator(cursor, params)
}

func (a *restAdapter) ListDelta(ctx context.Context, since time.Time, cursor string) (RecordIterator, error) {
	params := url.Values{}
	params.Set("updated_at_min", since.UTC().Format(time.RFC3339))
	return a.newIterator(cursor, params)
}

func (a *restAdapter) FetchInventory(ctx context.Context, externalIDs []string) (map[string]int, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(externalIDs, ","))

	body, err := a.doRequest(ctx, a.profile.inventoryPath, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []struct {
			ExternalID string `json:"external_id"`
			Quantity   int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "fetch_inventory",
			Retryable: false,
			Err:       fmt.Errorf("некорректный ответ инвентаря: %w", err),
		}
	}

	result := make(map[string]int, len(payload.Items))
	for _, item := range payload.Items {
		result[item.ExternalID] = item.Quantity
	}
	return result, nil
}

func (a *restAdapter) newIterator(cursor string, params url.Values) (RecordIterator, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 1 {
			return nil, &models.AdapterError{
				Source:    a.source,
				Op:        "resume",
				Retryable: false,
				Err:       fmt.Errorf("некорректный курсор возобновления %q", cursor),
			}
		}
		page = parsed
	}
	return &restIterator{
		adapter: a,
		params:  params,
		page:    page,
		hasMore: true,
	}, nil
}

// fetchPage загружает одну страницу с ограниченным экспоненциальным
// backoff для временных сбоев. Фатальная ошибка возвращается сразу.
func (a *restAdapter) fetchPage(ctx context.Context, page int, params url.Values) ([]*models.RawProductRecord, bool, error) {
	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(a.pageSize))

	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			a.logger.WarnWithContext(ctx, "повтор запроса страницы каталога",
				interfaces.LogField{Key: "source", Value: string(a.source)},
				interfaces.LogField{Key: "page", Value: page},
				interfaces.LogField{Key: "attempt", Value: attempt},
			)
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		body, err := a.doRequest(ctx, a.profile.listPath, query)
		if err != nil {
			if !models.IsRetryable(err) {
				return nil, false, err
			}
			if cooldown, ok := models.RateLimitCooldown(err); ok {
				select {
				case <-ctx.Done():
					return nil, false, ctx.Err()
				case <-time.After(cooldown):
				}
			}
			lastErr = err
			continue
		}

		records, hasMore, err := a.decodePage(body)
		if err != nil {
			return nil, false, err
		}
		return records, hasMore, nil
	}

	return nil, false, lastErr
}

func (a *restAdapter) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(a.cfg.Endpoint, "/") + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: false,
			Err:       err,
		}
	}
	if a.cfg.APIKey != "" {
		value := a.cfg.APIKey
		if a.profile.authScheme != "" {
			value = a.profile.authScheme + " " + value
		}
		req.Header.Set(a.profile.authHeader, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// сетевые сбои и таймауты считаем временными
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: true,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: true,
			Err:       err,
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: true,
			Cooldown:  parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:       fmt.Errorf("источник ограничил частоту запросов"),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: false,
			Err:       fmt.Errorf("авторизация отклонена источником: %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500:
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: true,
			Err:       fmt.Errorf("временная ошибка источника: %d", resp.StatusCode),
		}
	default:
		return nil, &models.AdapterError{
			Source:    a.source,
			Op:        "request",
			Retryable: false,
			Err:       fmt.Errorf("неожиданный статус источника: %d", resp.StatusCode),
		}
	}
}

func (a *restAdapter) decodePage(body []byte) ([]*models.RawProductRecord, bool, error) {
	var payload struct {
		Items   []map[string]interface{} `json:"items"`
		HasMore bool                     `json:"has_more"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, &models.AdapterError{
			Source:    a.source,
			Op:        "decode",
			Retryable: false,
			Err:       fmt.Errorf("некорректный ответ каталога: %w", err),
		}
	}

	records := make([]*models.RawProductRecord, 0, len(payload.Items))
	for _, item := range payload.Items {
		records = append(records, &models.RawProductRecord{
			Source: a.source,
			Data:   a.profile.mapRecord(item),
		})
	}
	return records, payload.HasMore, nil
}

// restIterator выдает записи постранично по мере обращения.
// Cursor() — номер первой незагруженной страницы.
type restIterator struct {
	adapter *restAdapter
	params  url.Values
	page    int
	pages   int
	buf     []*models.RawProductRecord
	idx     int
	hasMore bool
}

func (it *restIterator) Next(ctx context.Context) (*models.RawProductRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	for it.idx >= len(it.buf) {
		if !it.hasMore || it.pages >= it.adapter.maxPages {
			return nil, false, nil
		}

		records, hasMore, err := it.adapter.fetchPage(ctx, it.page, it.params)
		if err != nil {
			return nil, false, err
		}
		it.page++
		it.pages++
		it.buf = records
		it.idx = 0
		it.hasMore = hasMore && len(records) > 0
		if len(records) == 0 {
			return nil, false, nil
		}
	}

	rec := it.buf[it.idx]
	it.idx++
	return rec, true, nil
}

func (it *restIterator) Cursor() string {
	return strconv.Itoa(it.page)
}

func (it *restIterator) Close() {}

func applyFilter(params url.Values, filter *models.SyncFilter) {
	if filter == nil {
		return
	}
	if len(filter.SKUs) > 0 {
		params.Set("skus", strings.Join(filter.SKUs, ","))
	}
	if len(filter.ExternalIDs) > 0 {
		params.Set("ids", strings.Join(filter.ExternalIDs, ","))
	}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}
	if filter.UpdatedAfter != nil {
		params.Set("updated_at_min", filter.UpdatedAfter.UTC().Format(time.RFC3339))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// passthroughRecord оставляет поля ответа как есть: источник уже
// отдает общий контракт
func passthroughRecord(raw map[string]interface{}) map[string]interface{} {
	return raw
}

func mapShopifyRecord(raw map[string]interface{}) map[string]interface{} {
	renameKey(raw, "id", "external_id")
	renameKey(raw, "title", "name")
	renameKey(raw, "body_html", "description")
	renameKey(raw, "product_type", "category")
	return raw
}

func mapWooRecord(raw map[string]interface{}) map[string]interface{} {
	renameKey(raw, "id", "external_id")
	renameKey(raw, "regular_price", "price")
	renameKey(raw, "sale_price", "compare_at_price")
	renameKey(raw, "stock_quantity", "quantity")
	return raw
}

func mapMagentoRecord(raw map[string]interface{}) map[string]interface{} {
	renameKey(raw, "entity_id", "external_id")
	renameKey(raw, "qty", "quantity")
	return raw
}

func renameKey(m map[string]interface{}, from, to string) {
	if v, ok := m[from]; ok {
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}
}
