// Package client provides a Go client library for the codegate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ronai/codegate/pkg/auth"
)

// Client is the codegate API client.
type Client struct {
	baseURL    string
	auth       *auth.ServiceAuth
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		auth:    auth.NewServiceAuth(cfg.Token),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ExecuteCode runs code through the screened pipeline.
func (c *Client) ExecuteCode(ctx context.Context, code string) (*ScreenedResult, error) {
	var result ScreenedResult
	if err := c.post(ctx, "/api/execute-code", ExecutionRequest{Code: code}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteScript runs code through the capture pipeline.
func (c *Client) ExecuteScript(ctx context.Context, code string) (*CaptureResult, error) {
	var result CaptureResult
	if err := c.post(ctx, "/api/execute-python", ExecutionRequest{Code: code}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExportComponent writes a component file on the server.
func (c *Client) ExportComponent(ctx context.Context, req ExportRequest) (*ExportResponse, error) {
	if req.TargetPages == nil {
		req.TargetPages = []string{}
	}
	var result ExportResponse
	if err := c.post(ctx, "/api/export-component", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TestGemini checks the server's generative backend.
func (c *Client) TestGemini(ctx context.Context, mode string) (string, error) {
	path := "/api/test-gemini"
	if mode != "" {
		path += "?mode=" + url.QueryEscape(mode)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := c.get(ctx, path, &result); err != nil {
		return "", err
	}
	return result.Response, nil
}

// ListExecutions lists recent execution records.
func (c *Client) ListExecutions(ctx context.Context, filter ListFilter) ([]Execution, error) {
	params := url.Values{}
	if filter.Pipeline != "" {
		params.Set("pipeline", filter.Pipeline)
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/api/executions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var result []Execution
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var result map[string]string
	if err := c.get(ctx, "/health", &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, "POST", path, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, "GET", path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doRequest makes an authenticated HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	c.auth.AddAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

// parseError parses an error response.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail != "" {
		return fmt.Errorf("%s: %s", resp.Status, errResp.Detail)
	}

	return fmt.Errorf("%s: %s", resp.Status, string(body))
}

// Request/Response types

// ExecutionRequest is the body of both execution routes.
type ExecutionRequest struct {
	Code string `json:"code"`
}

// ScreenedResult is the screened pipeline's response.
type ScreenedResult struct {
	Output string  `json:"output"`
	Error  *string `json:"error"`
}

// CaptureResult is the capture pipeline's response.
type CaptureResult struct {
	Stdout      *string `json:"stdout"`
	Stderr      *string `json:"stderr"`
	Error       *string `json:"error"`
	HTMLPreview *string `json:"html_preview"`
}

// ExportRequest asks the server to write a component.
type ExportRequest struct {
	ComponentName string   `json:"componentName"`
	Code          string   `json:"code"`
	TargetPages   []string `json:"targetPages"`
}

// ExportResponse reports where the component was written.
type ExportResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// Execution is an audit record.
type Execution struct {
	ID          string    `json:"id"`
	Pipeline    string    `json:"pipeline"`
	CodeSHA256  string    `json:"code_sha256"`
	CodeSize    int       `json:"code_size"`
	Rejected    bool      `json:"rejected"`
	RejectRule  string    `json:"reject_rule,omitempty"`
	Failed      bool      `json:"failed"`
	Error       string    `json:"error,omitempty"`
	StdoutBytes int       `json:"stdout_bytes"`
	HasHTML     bool      `json:"has_html"`
	DurationMS  int64     `json:"duration_ms"`
	RemoteAddr  string    `json:"remote_addr,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListFilter is the filter for listing executions.
type ListFilter struct {
	Pipeline string
	Limit    int
}
