package http

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

	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    interface{}
	Context context.Context
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// StatusError is returned by Do when the server answers with a 4xx or 5xx.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// NewClientWithLogger creates a new HTTP client with a custom logger and
// per-request timeout. A non-positive timeout falls back to DefaultTimeout.
func NewClientWithLogger(logger *zap.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Do issues exactly one request. Callers own any retry policy.
func (c *Client) Do(opts RequestOptions) (*Response, error) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		c.logger.Error("Failed to build request", zap.Error(err), zap.String("method", opts.Method), zap.String("url", redactURL(opts.URL)))
		return nil, err
	}

	c.logger.Debug("Making HTTP request",
		zap.String("method", opts.Method),
		zap.String("url", redactURL(opts.URL)))

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed",
			zap.Error(err),
			zap.String("method", opts.Method),
			zap.String("url", redactURL(opts.URL)))
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.logger.Error("Failed to read response body", zap.Error(err))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if httpResp.StatusCode >= 400 {
		c.logger.Warn("HTTP request returned error status",
			zap.Int("status_code", httpResp.StatusCode),
			zap.String("method", opts.Method),
			zap.String("url", redactURL(opts.URL)),
			zap.Duration("duration", time.Since(start)))
		return resp, &StatusError{StatusCode: httpResp.StatusCode, Body: body}
	}

	c.logger.Debug("HTTP request completed successfully",
		zap.Int("status_code", resp.StatusCode),
		zap.String("method", opts.Method),
		zap.String("url", redactURL(opts.URL)),
		zap.Duration("duration", time.Since(start)))

	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, opts RequestOptions) (*http.Request, error) {
	var bodyReader io.Reader
	if opts.Body != nil {
		if bodyBytes, ok := opts.Body.([]byte); ok {
			bodyReader = bytes.NewReader(bodyBytes)
		} else {
			// If Content-Type explicitly requests form encoding, honor it.
			contentType := opts.Headers["Content-Type"]
			if contentType == "" {
				contentType = opts.Headers["content-type"]
			}

			if strings.HasPrefix(strings.ToLower(contentType), "application/x-www-form-urlencoded") {
				form := url.Values{}

				switch v := opts.Body.(type) {
				case url.Values:
					form = v
				case map[string]string:
					for k, val := range v {
						form.Set(k, val)
					}
				case map[string]interface{}:
					for k, val := range v {
						if val == nil {
							continue
						}
						form.Set(k, fmt.Sprint(val))
					}
				default:
					return nil, fmt.Errorf("unsupported form body type %T", opts.Body)
				}

				bodyReader = strings.NewReader(form.Encode())
			} else {
				bodyJSON, err := json.Marshal(opts.Body)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal request body: %w", err)
				}
				bodyReader = bytes.NewReader(bodyJSON)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set default headers
	if opts.Body != nil && opts.Headers["Content-Type"] == "" && opts.Headers["content-type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Set custom headers
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body interface{}) (*Response, error) {
	return c.Do(RequestOptions{
		Method:  http.MethodPost,
		URL:     url,
		Headers: headers,
		Body:    body,
		Context: ctx,
	})
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
