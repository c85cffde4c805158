// Package blob stores uploaded objects in an S3-compatible storage service
// exposing the Supabase-style object REST API.
package blob

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
)

// Config holds object storage configuration.
type Config struct {
	Endpoint   string
	Bucket     string
	ServiceKey string
	Timeout    time.Duration
}

// PutResult describes a stored object.
type PutResult struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// Client uploads objects with the service key.
type Client struct {
	config     Config
	storageURL string
	httpClient *http.Client
}

// NewClient creates a storage client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint required")
	}
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("storage service key required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "uploads"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config:     cfg,
		storageURL: strings.TrimRight(cfg.Endpoint, "/") + "/storage/v1",
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Put stores an object under the given path and returns its public URL.
func (c *Client) Put(ctx context.Context, objectPath, contentType string, body io.Reader) (*PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	urlStr := fmt.Sprintf("%s/object/%s/%s", c.storageURL, c.config.Bucket, url.PathEscape(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(respBody, resp.StatusCode)
	}

	return &PutResult{
		URL:         fmt.Sprintf("%s/object/public/%s/%s", c.storageURL, c.config.Bucket, objectPath),
		Pathname:    objectPath,
		ContentType: contentType,
	}, nil
}

func parseError(body []byte, statusCode int) error {
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("storage error %d: %s", statusCode, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("storage error %d: %s", statusCode, apiErr.Error)
		}
	}
	return fmt.Errorf("storage error %d", statusCode)
}
