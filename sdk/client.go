// Package gudang provides a Go client for the warehouse detection ledger API.
//
// Usage:
//
//	client := gudang.New("https://ledger.example.com", "your-api-key")
//
//	// Report a detection result for a camera
//	resp, err := client.IngestDetection(ctx, gudang.IngestDetectionRequest{
//	    CameraID: camID,
//	    Counts:   map[string]int{"sack": 3, "box": 1},
//	})
//
//	// Recover the encrypted payload of a stored detection
//	payload, err := client.DetectionPlaintext(ctx, resp.DetectionID)
package gudang

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client is the authenticated ledger API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a ledger client. baseURL is the root URL of the server; apiKey
// is the Bearer token issued when the principal was provisioned.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Health checks that the ledger server is reachable.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return doRequest[HealthResponse](ctx, c, http.MethodGet, "/health", nil, http.StatusOK)
}

// CreateWarehouse provisions a new warehouse. Requires an admin key.
func (c *Client) CreateWarehouse(ctx context.Context, req CreateWarehouseRequest) (*CreateWarehouseResponse, error) {
	return doRequest[CreateWarehouseResponse](ctx, c, http.MethodPost, "/warehouses", req, http.StatusCreated)
}

// CreatePrincipal issues an API key for a new principal. Requires an admin
// key; store the returned key securely, it is shown only once.
func (c *Client) CreatePrincipal(ctx context.Context, req CreatePrincipalRequest) (*CreatePrincipalResponse, error) {
	return doRequest[CreatePrincipalResponse](ctx, c, http.MethodPost, "/admin/principals", req, http.StatusCreated)
}

// SetPersistence toggles detection history persistence. Requires an admin key.
func (c *Client) SetPersistence(ctx context.Context, enabled bool) (*PersistenceResponse, error) {
	req := map[string]bool{"enabled": enabled}
	return doRequest[PersistenceResponse](ctx, c, http.MethodPut, "/admin/persistence", req, http.StatusOK)
}

// RegisterCamera registers a camera, reusing an existing one with the same
// name in the warehouse.
func (c *Client) RegisterCamera(ctx context.Context, req RegisterCameraRequest) (*RegisterCameraResponse, error) {
	return doRequestStatuses[RegisterCameraResponse](ctx, c, http.MethodPost, "/cameras", nil, req,
		http.StatusCreated, http.StatusOK)
}

// IngestDetection reports one detection result. A skipped status means the
// write was throttled or persistence is unavailable; it is not an error.
func (c *Client) IngestDetection(ctx context.Context, req IngestDetectionRequest) (*IngestDetectionResponse, error) {
	return doRequestStatuses[IngestDetectionResponse](ctx, c, http.MethodPost, "/detections", nil, req,
		http.StatusCreated, http.StatusOK)
}

// DetectionPlaintext returns the decrypted payload of a detection the caller
// is authorized for.
func (c *Client) DetectionPlaintext(ctx context.Context, detectionID string) (*PlaintextResponse, error) {
	path := fmt.Sprintf("/detections/%s/plaintext", detectionID)
	return doRequest[PlaintextResponse](ctx, c, http.MethodGet, path, nil, http.StatusOK)
}

// ListDetections returns the non-sensitive detection history. All filter
// fields are optional.
func (c *Client) ListDetections(ctx context.Context, filter ListDetectionsFilter) (*ListDetectionsResponse, error) {
	query := map[string]string{}
	if filter.CameraID != "" {
		query["camera_id"] = filter.CameraID
	}
	if filter.From != "" {
		query["from"] = filter.From
	}
	if filter.To != "" {
		query["to"] = filter.To
	}
	if filter.Limit > 0 {
		query["limit"] = fmt.Sprint(filter.Limit)
	}
	if filter.Offset > 0 {
		query["offset"] = fmt.Sprint(filter.Offset)
	}
	return doRequestStatuses[ListDetectionsResponse](ctx, c, http.MethodGet, "/detections", query, nil, http.StatusOK)
}

// Stats returns plaintext aggregates per camera and per class. Requires an
// admin key.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	return doRequest[StatsResponse](ctx, c, http.MethodGet, "/stats", nil, http.StatusOK)
}

// --- internal helpers ---

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gudang: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

func doRequest[T any](ctx context.Context, c *Client, method, path string, body any, expectedStatus int) (*T, error) {
	return doRequestStatuses[T](ctx, c, method, path, nil, body, expectedStatus)
}

func doRequestStatuses[T any](ctx context.Context, c *Client, method, path string, query map[string]string, body any, expectedStatuses ...int) (*T, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	for _, s := range expectedStatuses {
		if resp.StatusCode == s {
			var out T
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return nil, fmt.Errorf("gudang: decode response: %w", err)
			}
			return &out, nil
		}
	}
	return nil, parseError(resp)
}

func parseError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
