package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenVerifier validates an opaque bearer token issued by the embedded
// wallet provider.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) error
}

// ProviderConfig configures the embedded-wallet provider client.
type ProviderConfig struct {
	AppID     string
	AppSecret string
	VerifyURL string
	Timeout   time.Duration
}

// ProviderClient verifies tokens against the provider's verification
// endpoint using the app credentials.
type ProviderClient struct {
	config     ProviderConfig
	httpClient *http.Client
}

var _ TokenVerifier = (*ProviderClient)(nil)

// NewProviderClient creates a provider token verifier.
func NewProviderClient(cfg ProviderConfig) (*ProviderClient, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("provider app credentials required")
	}
	if cfg.VerifyURL == "" {
		return nil, fmt.Errorf("provider verify URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ProviderClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// VerifyToken posts the token to the provider's verification endpoint. Any
// non-2xx response or transport failure is a verification failure.
func (c *ProviderClient) VerifyToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.VerifyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.AppID, c.config.AppSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("token rejected with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
