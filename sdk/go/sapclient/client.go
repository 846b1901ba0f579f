package sapclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the provider (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for one SAP data provider.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sapclient: BaseURL is required")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(cfg.HTTPClient, cfg.Timeout),
	}, nil
}

func newHTTPClient(custom *http.Client, timeout time.Duration) *http.Client {
	if custom != nil {
		return custom
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ServerType identifies what is listening at the base URL via GET /wtf.
// Providers answer "SAP"; registries answer "Registry".
func (c *Client) ServerType(ctx context.Context) (string, error) {
	var resp struct {
		Type string `json:"type"`
	}
	if err := c.get(ctx, "/wtf", &resp); err != nil {
		return "", err
	}
	return resp.Type, nil
}

// Hello retrieves the provider's metadata and declared lazy load scopes.
func (c *Client) Hello(ctx context.Context) (*HelloResponse, error) {
	var resp HelloResponse
	if err := c.get(ctx, "/hello", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AllData retrieves the provider's full cached snapshot.
func (c *Client) AllData(ctx context.Context) ([]Object, error) {
	var objs []Object
	if err := c.get(ctx, "/all_data", &objs); err != nil {
		return nil, err
	}
	return objs, nil
}

// Health checks process liveness. A healthy provider answers 200 even while
// its upstream fetches are failing.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the provider's refresh cycle state.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh asks the provider to fetch outside its periodic schedule. The
// returned status is "refresh_started" or "refresh_skipped" (a fetch was
// already running). The token may be empty when the provider is unprotected.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	path := "/refresh"
	if token != "" {
		path += "?token=" + url.QueryEscape(token)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// LazyLoad posts a query for on-demand data. Use IsNotFound and IsBadRequest
// on the returned error to distinguish unsupported types from rejected
// requests.
func (c *Client) LazyLoad(ctx context.Context, req LazyLoadRequest) (*LazyLoadResponse, error) {
	var resp LazyLoadResponse
	if err := c.post(ctx, "/lazy_load", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Plan asks the provider to describe how it would answer the query without
// fetching any data.
func (c *Client) Plan(ctx context.Context, req LazyLoadRequest) (string, error) {
	req.PlanOnly = true
	resp, err := c.LazyLoad(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Plan, nil
}

// RegistryClient reads the shell registry server's provider list.
type RegistryClient struct {
	baseURL string
	client  *http.Client
}

// NewRegistryClient creates a client for a registry server.
func NewRegistryClient(cfg Config) (*RegistryClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sapclient: BaseURL is required")
	}
	return &RegistryClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  newHTTPClient(cfg.HTTPClient, cfg.Timeout),
	}, nil
}

// Providers retrieves the registered provider URLs, skipping blank lines and
// comments.
func (r *RegistryClient) Providers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/saps", nil)
	if err != nil {
		return nil, fmt.Errorf("sapclient: create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sapclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	var urls []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("sapclient: read registry: %w", err)
	}
	return urls, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sapclient: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sapclient: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("sapclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sapclient: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sapclient: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("sapclient: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		apiErr.Message = envelope.Error
	} else {
		apiErr.Message = string(body)
	}
	return apiErr
}
