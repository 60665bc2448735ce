package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/api"
	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/core"
	"github.com/tehaksbrid/shop-databaser/internal/models"
	"github.com/tehaksbrid/shop-databaser/internal/query"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Code    string
	Message string
	Kind    string
	Status  int
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("api error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to a running daemon's local API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &APIError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	return &APIError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Kind:    errResp.Kind,
		Status:  resp.StatusCode,
	}
}

// Stores lists the registered stores.
func (c *Client) Stores(ctx context.Context) ([]*models.Store, error) {
	var resp api.StoresResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/stores", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stores, nil
}

// Register connects a new store.
func (c *Client) Register(ctx context.Context, req core.RegisterRequest) (*models.Store, error) {
	var store models.Store
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/stores", req, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

// Disconnect deregisters a store and deletes its local data.
func (c *Client) Disconnect(ctx context.Context, uuid string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/stores/"+url.PathEscape(uuid), nil, nil)
}

// Resync restarts the store's historical pass.
func (c *Client) Resync(ctx context.Context, uuid string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/stores/"+url.PathEscape(uuid)+"/resync", nil, nil)
}

// Status returns the latest report of one store, or of every store when uuid is empty.
func (c *Client) Status(ctx context.Context, uuid string) ([]*models.StatusReport, error) {
	var resp api.StatusResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/status", api.StatusRequest{UUID: uuid}, &resp); err != nil {
		return nil, err
	}
	return resp.Reports, nil
}

// Query runs q against one store.
func (c *Client) Query(ctx context.Context, uuid, q string) (*query.Result, error) {
	var res query.Result
	path := "/api/v1/stores/" + url.PathEscape(uuid) + "/query"
	if err := c.doJSON(ctx, http.MethodPost, path, api.QueryRequest{Query: q}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Config returns the daemon's active configuration.
func (c *Client) Config(ctx context.Context) (*config.Config, error) {
	var cfg config.Config
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig changes one option and returns the resulting configuration.
func (c *Client) SetConfig(ctx context.Context, section, key string, value any) (*config.Config, error) {
	var cfg config.Config
	req := api.ConfigUpdate{Section: section, Key: key, Value: value}
	if err := c.doJSON(ctx, http.MethodPut, "/api/v1/config", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveStore finds the store whose UUID or name matches ref. A unique UUID
// prefix is accepted.
func (c *Client) resolveStore(ctx context.Context, ref string) (*models.Store, error) {
	stores, err := c.Stores(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*models.Store
	for _, s := range stores {
		if s.UUID == ref || strings.EqualFold(s.Name, ref) {
			return s, nil
		}
		if strings.HasPrefix(s.UUID, ref) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no store matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous: %d stores match", ref, len(matches))
	}
}
