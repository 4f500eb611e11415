// Package feishuapi is a small client for the Feishu / Lark open API covering
// the endpoints the exporter reads: docx blocks, wiki nodes, drive media,
// whiteboards, sheets and bitables.
package feishuapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// codeRateLimited is the business code Feishu returns when the app exceeds
// its request quota. It may arrive with HTTP 200 or 400.
const codeRateLimited = 99991400

const (
	defaultRequestsPerSecond = 5
	defaultRetryDelay        = 500 * time.Millisecond
	maxRetryDelay            = 10 * time.Second
)

// Options configures a Client. Zero values fall back to defaults; Location
// is used to render bitable dates and defaults to time.Local.
type Options struct {
	BaseURL           string
	Tokens            TokenProvider
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	RetryDelay        time.Duration
	Location          *time.Location
	Logger            *zap.Logger
}

// Client talks to one Feishu deployment. All requests share one rate limiter,
// so a single Client can be used by many export workers at once.
type Client struct {
	baseURL    string
	http       *http.Client
	tokens     TokenProvider
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	location   *time.Location
	logger     *zap.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = max(int(rps), 1)
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	location := opts.Location
	if location == nil {
		location = time.Local
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: max(opts.MaxRetries, 0),
		retryDelay: retryDelay,
		location:   location,
		logger:     logger,
	}
}

// APIError is a non-zero business code or a failing HTTP status.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu api: status %d, code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("feishu api: status %d: %s", e.Status, e.Msg)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500 || e.Code == codeRateLimited
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// listPage is the pagination shape shared by most list endpoints.
type listPage[T any] struct {
	Items     []T    `json:"items"`
	PageToken string `json:"page_token"`
	HasMore   bool   `json:"has_more"`
}

func (c *Client) getJSON(ctx context.Context, p string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, p, query, nil, out)
}

// doJSON sends one request, retrying throttled and failed attempts, and
// decodes the data member of the response envelope into out.
func (c *Client) doJSON(ctx context.Context, method, p string, query url.Values, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
		payload = b
	}

	return retry.Do(func() error {
		resp, err := c.send(ctx, method, p, query, payload)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return classify(&APIError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)})
			}
			return retry.Unrecoverable(fmt.Errorf("decode %s: %w", p, err))
		}
		if env.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
			return classify(&APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg})
		}
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode %s data: %w", p, err))
		}
		return nil
	}, c.retryOptions(ctx, method+" "+p)...)
}

// listAll follows page_token until has_more is cleared.
func listAll[T any](ctx context.Context, c *Client, p string, query url.Values) ([]T, error) {
	var out []T
	seen := make(map[string]struct{})
	for {
		var page listPage[T]
		if err := c.getJSON(ctx, p, query, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore || page.PageToken == "" {
			return out, nil
		}
		if _, repeated := seen[page.PageToken]; repeated {
			return nil, fmt.Errorf("list %s: page_token %q repeated", p, page.PageToken)
		}
		seen[page.PageToken] = struct{}{}
		query = cloneQuery(query)
		query.Set("page_token", page.PageToken)
	}
}

func (c *Client) send(ctx context.Context, method, p string, query url.Values, payload []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Unrecoverable(err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("access token: %w", err))
	}

	target := c.baseURL + "/open-apis" + p
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Unrecoverable(ctx.Err())
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) retryOptions(ctx context.Context, op string) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries + 1)),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying request",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	}
}

// classify marks API errors that will not go away as unrecoverable.
func classify(err *APIError) error {
	if err.Temporary() {
		return err
	}
	return retry.Unrecoverable(err)
}

func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+1)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func segment(s string) string {
	return url.PathEscape(s)
}
