// Package midgard reads churn parameters from a Midgard indexer.
package midgard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

// Field names read from the responses
const (
	FieldChurnInterval   = "CHURNINTERVAL"
	FieldNextChurnHeight = "nextChurnHeight"
)

// maxBodySize bounds how much of a response is read. The mimir table is a
// few kilobytes.
const maxBodySize = 4 << 20

var (
	// ErrMissingField is returned when the response lacks the expected key
	ErrMissingField = errors.New("field missing from response")
	// ErrInvalidField is returned when the key has the wrong type or value
	ErrInvalidField = errors.New("field has invalid value")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Endpoints are the two Midgard URLs the client reads.
type Endpoints struct {
	MimirURL   string
	NetworkURL string
}

// Client fetches CHURNINTERVAL and nextChurnHeight.
type Client struct {
	mu        sync.RWMutex
	endpoints Endpoints

	http   *http.Client
	logger *logger.Logger
}

// NewClient creates a Midgard client with the given request timeout.
func NewClient(endpoints Endpoints, timeout time.Duration, log *logger.Logger) (*Client, error) {
	if err := endpoints.validate(); err != nil {
		return nil, err
	}
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: timeout},
		logger:    log,
	}, nil
}

func (e Endpoints) validate() error {
	if e.MimirURL == "" {
		return fmt.Errorf("mimir URL is required")
	}
	if e.NetworkURL == "" {
		return fmt.Errorf("network URL is required")
	}
	return nil
}

// SetEndpoints swaps the URLs used by subsequent requests.
func (c *Client) SetEndpoints(endpoints Endpoints) error {
	if err := endpoints.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.endpoints = endpoints
	c.mu.Unlock()
	return nil
}

// Endpoints returns the URLs currently in use
func (c *Client) Endpoints() Endpoints {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints
}

// FetchChurnInterval reads CHURNINTERVAL from the mimir table. The value
// must be a JSON integer.
func (c *Client) FetchChurnInterval(ctx context.Context) (int64, error) {
	fields, err := c.getObject(ctx, c.Endpoints().MimirURL)
	if err != nil {
		return 0, err
	}

	raw, ok := fields[FieldChurnInterval]
	if !ok {
		return 0, fmt.Errorf("%s: %w", FieldChurnInterval, ErrMissingField)
	}

	// Quoted numbers and fractions are rejected
	literal := string(bytes.TrimSpace(raw))
	v, err := strconv.ParseInt(literal, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%s is not an integer: %w", FieldChurnInterval, literal, ErrInvalidField)
	}
	return v, nil
}

// FetchNextChurnHeight reads nextChurnHeight from the network endpoint.
// Midgard encodes it as a decimal string.
func (c *Client) FetchNextChurnHeight(ctx context.Context) (int64, error) {
	fields, err := c.getObject(ctx, c.Endpoints().NetworkURL)
	if err != nil {
		return 0, err
	}

	raw, ok := fields[FieldNextChurnHeight]
	if !ok {
		return 0, fmt.Errorf("%s: %w", FieldNextChurnHeight, ErrMissingField)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%s is not a string: %w", FieldNextChurnHeight, ErrInvalidField)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s=%q is not a height: %w", FieldNextChurnHeight, s, ErrInvalidField)
	}
	return v, nil
}

func (c *Client) getObject(ctx context.Context, url string) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	c.logger.Debug("midgard response",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("empty response from %s", url)
	}
	return fields, nil
}
