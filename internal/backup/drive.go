// Package backup mirrors published content to the owning user's Google
// Drive. Delivery is best effort: the dispatcher decouples it from request
// handling and failures are only ever logged.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
)

const (
	defaultUploadURL = "https://www.googleapis.com/upload/drive/v3/files?uploadType=multipart"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
)

// DriveConfig configures the Drive client. The URL fields exist for tests.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	UploadURL    string
	TokenURL     string
	Timeout      time.Duration
}

// DriveClient uploads post snapshots to Google Drive using the OAuth tokens
// stored on the user record.
type DriveClient struct {
	config     DriveConfig
	httpClient *http.Client
}

// NewDriveClient creates a Drive client.
func NewDriveClient(cfg DriveConfig) *DriveClient {
	if cfg.UploadURL == "" {
		cfg.UploadURL = defaultUploadURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DriveClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// SyncPost uploads a JSON snapshot of the post to the user's Drive. The
// user must have Drive tokens from the OAuth callback; an expired access
// token is refreshed first.
func (c *DriveClient) SyncPost(ctx context.Context, owner user.User, p post.Post) error {
	if owner.Google == nil || owner.Google.RefreshToken == "" {
		return fmt.Errorf("user %s has no drive tokens", owner.ID)
	}

	accessToken := owner.Google.AccessToken
	if tokenExpired(owner.Google) {
		refreshed, err := c.refreshAccessToken(ctx, owner.Google.RefreshToken)
		if err != nil {
			return fmt.Errorf("refresh token: %w", err)
		}
		accessToken = refreshed
	}

	snapshot, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}

	body, contentType, err := multipartUpload(p.ID+".json", snapshot)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.UploadURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func tokenExpired(tokens *user.GoogleTokens) bool {
	if tokens.ExpiryDate == 0 {
		return true
	}
	// expiry_date arrives as epoch milliseconds from the OAuth callback
	return time.Now().After(time.UnixMilli(tokens.ExpiryDate))
}

func (c *DriveClient) refreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return tokenResp.AccessToken, nil
}

func multipartUpload(name string, content []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	meta := map[string]string{"name": name}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, "", err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/json")
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := filePart.Write(content); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, "multipart/related; boundary=" + writer.Boundary(), nil
}
