package feishuapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// tokenRefreshMargin is how long before expiry a cached tenant token is
// replaced.
const tokenRefreshMargin = 30 * time.Minute

// TokenProvider supplies the bearer token sent with every request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a user or tenant access token obtained elsewhere.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TenantTokenProvider mints tenant access tokens from app credentials and
// keeps the current one in memory until it is close to expiry.
type TenantTokenProvider struct {
	BaseURL    string
	AppID      string
	AppSecret  string
	HTTPClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

func (p *TenantTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	if p.token != "" && now().Add(tokenRefreshMargin).Before(p.expires) {
		return p.token, nil
	}

	token, ttl, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	p.expires = now().Add(ttl)
	return p.token, nil
}

func (p *TenantTokenProvider) fetch(ctx context.Context) (string, time.Duration, error) {
	if p.AppID == "" || p.AppSecret == "" {
		return "", 0, errors.New("app_id and app_secret are required")
	}
	body, err := json.Marshal(map[string]string{
		"app_id":     p.AppID,
		"app_secret": p.AppSecret,
	})
	if err != nil {
		return "", 0, err
	}

	target := strings.TrimRight(p.BaseURL, "/") + "/open-apis/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request tenant token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read tenant token: %w", err)
	}
	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, &APIError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	}
	if out.Code != 0 || resp.StatusCode >= http.StatusBadRequest || out.TenantAccessToken == "" {
		return "", 0, &APIError{Status: resp.StatusCode, Code: out.Code, Msg: out.Msg}
	}
	return out.TenantAccessToken, time.Duration(out.Expire) * time.Second, nil
}
