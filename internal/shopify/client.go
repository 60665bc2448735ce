package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

const (
	apiVersion = "2020-10"

	// Price rules are only served from the unstable API.
	priceRulesVersion = "unstable"

	pageLimit = "250"

	// Creation-date filters on the remote side are imprecise, so windows are padded.
	creationPadding = 180 * time.Minute
	eventPadding    = 60 * time.Minute

	idBatchSize        = 250
	inventoryBatchSize = 100
)

// ClientOptions configure a Client. Wait replaces the pause between requests and
// between retries.
type ClientOptions struct {
	HTTPClient  *http.Client
	Retry       *RetryConfig
	Logger      *slog.Logger
	NetworkLogs bool
	Now         func() time.Time
	Wait        func(ctx context.Context, d time.Duration) error
}

// Client implements Source over the store's admin API.
type Client struct {
	baseURL     string
	host        string
	key         string
	secret      string
	httpClient  *http.Client
	pacer       *Pacer
	retrier     *retrier
	logger      *slog.Logger
	networkLogs atomic.Bool
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the given store.
func NewClient(store *models.Store, opts ClientOptions) *Client {
	base := strings.TrimRight(store.URL, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	host := base
	if u, err := url.Parse(base); err == nil {
		host = u.Hostname()
	}

	c := &Client{
		baseURL:    base,
		host:       host,
		key:        store.APIKey,
		secret:     store.APISecret,
		httpClient: opts.HTTPClient,
		retrier:    newRetrier(opts.Retry),
		logger:     opts.Logger,
		now:        opts.Now,
		wait:       opts.Wait,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.wait == nil {
		c.wait = sleep
	}
	c.pacer = NewPacer(store.IsPlusTier, c.now)
	c.retrier.wait = c.wait
	c.retrier.onRetry = func(op string, attempt int, err error) {
		c.logger.Info("retrying request", "operation", op, "attempt", attempt, "error", err)
	}
	c.networkLogs.Store(opts.NetworkLogs)
	return c
}

// SetNetworkLogs toggles per-request logging.
func (c *Client) SetNetworkLogs(enabled bool) {
	c.networkLogs.Store(enabled)
}

// Usage implements Source.
func (c *Client) Usage() int {
	return c.pacer.Usage()
}

// Ping checks that the store host resolves.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if ip := net.ParseIP(c.host); ip != nil || c.host == "localhost" {
		return nil
	}
	if _, err := net.DefaultResolver.LookupHost(ctx, c.host); err != nil {
		return fmt.Errorf("resolve %s: %w", c.host, err)
	}
	return nil
}

func (c *Client) apiURL(version, resource string, params url.Values) string {
	u := fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, version, resource)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

type response struct {
	body   []byte
	header http.Header
}

// do performs one HTTP request, including retries, then paces the next one.
func (c *Client) do(ctx context.Context, method, target string, payload []byte) (*response, error) {
	var resp *response
	start := c.now()
	err := c.retrier.retry(ctx, method+" "+redact(target), func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(c.key, c.secret)
		req.Header.Set("X-Shopify-Access-Token", c.secret)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer httpResp.Body.Close()

		c.pacer.Register()
		if c.networkLogs.Load() {
			c.logger.Info("request",
				"status", httpResp.StatusCode,
				"method", method,
				"url", redact(target),
				"usage", fmt.Sprintf("%d%% / %dms", c.pacer.Usage(), c.pacer.Pace().Milliseconds()),
			)
		}

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if httpResp.StatusCode >= 400 {
			return &RemoteError{Status: httpResp.StatusCode, Message: errorMessage(data, httpResp.Status)}
		}
		resp = &response{body: data, header: httpResp.Header}
		return nil
	})

	// Cancellation during the pause surfaces on the next call.
	_ = c.wait(ctx, c.pacer.Delay(c.now().Sub(start)))
	return resp, err
}

func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Errors != nil {
		return fmt.Sprint(payload.Errors)
	}
	return fallback
}

// redact drops the query string so ids and cursors stay out of logs.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Host + u.Path
}

// list reads every page of a list resource. The response body is an object whose
// key holds the array of records.
func (c *Client) list(ctx context.Context, version, resource, key string, params url.Values) ([]models.Record, error) {
	var out []models.Record
	next := c.apiURL(version, resource, params)
	for next != "" {
		resp, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("request failed, returning partial results", "resource", resource, "error", err)
			break
		}

		page, err := decodeList(resp.body, key)
		if err != nil {
			c.logger.Warn("unreadable response, returning partial results", "resource", resource, "error", err)
			break
		}
		out = append(out, page...)
		next = c.nextPage(resp.header.Get("Link"))
	}
	if out == nil {
		out = []models.Record{}
	}
	return out, nil
}

func decodeList(body []byte, key string) ([]models.Record, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := envelope[key]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", key)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []models.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return records, nil
}

// nextPage extracts the rel="next" target from a Link header and re-roots it on the
// client's base URL.
func (c *Client) nextPage(link string) string {
	for _, part := range strings.Split(link, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end <= start {
			continue
		}
		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			continue
		}
		return c.baseURL + u.RequestURI()
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func createdParams(from, to time.Time) url.Values {
	return url.Values{
		"created_at_min": {formatTime(from.Add(-creationPadding))},
		"created_at_max": {formatTime(to.Add(creationPadding))},
		"limit":          {pageLimit},
	}
}

func updatedParams(from, to time.Time) url.Values {
	return url.Values{
		"updated_at_min": {formatTime(from)},
		"updated_at_max": {formatTime(to)},
		"limit":          {pageLimit},
	}
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func (c *Client) listByIDs(ctx context.Context, resource, key string, ids []string, size int, extra url.Values) ([]models.Record, error) {
	out := []models.Record{}
	for _, batch := range batches(ids, size) {
		params := url.Values{"ids": {strings.Join(batch, ",")}}
		for k, v := range extra {
			params[k] = v
		}
		records, err := c.list(ctx, apiVersion, resource, key, params)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// GetShop reads the shop profile. Unlike list calls it returns an error on failure,
// since callers need the profile to proceed.
func (c *Client) GetShop(ctx context.Context) (*models.Shop, error) {
	resp, err := c.do(ctx, http.MethodGet, c.apiURL(apiVersion, "shop.json", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("get shop: %w", err)
	}

	var payload struct {
		Shop *struct {
			ID        json.Number `json:"id"`
			Name      string      `json:"name"`
			Domain    string      `json:"domain"`
			PlanName  string      `json:"plan_name"`
			CreatedAt time.Time   `json:"created_at"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("decode shop: %w", err)
	}
	if payload.Shop == nil {
		return nil, fmt.Errorf("get shop: empty response")
	}
	s := payload.Shop
	return &models.Shop{
		ID:        s.ID.String(),
		Name:      s.Name,
		Domain:    s.Domain,
		PlanName:  s.PlanName,
		CreatedAt: s.CreatedAt,
	}, nil
}

// GetOrdersByDate returns orders of any status created in the padded window.
func (c *Client) GetOrdersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	params := createdParams(from, to)
	params.Set("status", "any")
	return c.list(ctx, apiVersion, "orders.json", "orders", params)
}

// GetOrdersByID returns the given orders in batches.
func (c *Client) GetOrdersByID(ctx context.Context, ids []string) ([]models.Record, error) {
	return c.listByIDs(ctx, "orders.json", "orders", ids, idBatchSize, url.Values{"status": {"any"}, "limit": {pageLimit}})
}

// GetCustomersByDate returns customers created in the padded window.
func (c *Client) GetCustomersByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	return c.list(ctx, apiVersion, "customers.json", "customers", createdParams(from, to))
}

// GetCustomersByUpdatedDate returns customers updated in the window.
func (c *Client) GetCustomersByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	return c.list(ctx, apiVersion, "customers.json", "customers", updatedParams(from, to))
}

// GetProductsByDate returns products created in the padded window.
func (c *Client) GetProductsByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	return c.list(ctx, apiVersion, "products.json", "products", createdParams(from, to))
}

// GetProductsByID returns the given products in batches.
func (c *Client) GetProductsByID(ctx context.Context, ids []string) ([]models.Record, error) {
	return c.listByIDs(ctx, "products.json", "products", ids, idBatchSize, url.Values{"limit": {pageLimit}})
}

// GetPriceRulesByDate returns discounts created in the padded window.
func (c *Client) GetPriceRulesByDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	return c.list(ctx, priceRulesVersion, "price_rules.json", "price_rules", createdParams(from, to))
}

// GetPriceRulesByUpdatedDate returns discounts updated in the window.
func (c *Client) GetPriceRulesByUpdatedDate(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	return c.list(ctx, priceRulesVersion, "price_rules.json", "price_rules", updatedParams(from, to))
}

// GetRecentEvents returns order and product events in the window, padded on both sides.
func (c *Client) GetRecentEvents(ctx context.Context, from, to time.Time) ([]models.Record, error) {
	params := url.Values{
		"created_at_min": {formatTime(from.Add(-eventPadding))},
		"created_at_max": {formatTime(to.Add(eventPadding))},
		"filter":         {"Order,Product"},
		"limit":          {pageLimit},
	}
	return c.list(ctx, apiVersion, "events.json", "events", params)
}

// GetInventoryItems returns the given inventory items in batches.
func (c *Client) GetInventoryItems(ctx context.Context, ids []string) ([]models.Record, error) {
	return c.listByIDs(ctx, "inventory_items.json", "inventory_items", ids, inventoryBatchSize, url.Values{"limit": {"100"}})
}
