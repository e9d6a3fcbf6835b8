package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"metals_scanner/models"
	"metals_scanner/utils"
)

// maxErrorLen caps the error text stored in audit rows.
const maxErrorLen = 200

// AuditStore records one row per outbound attempt.
type AuditStore interface {
	InsertAudit(ctx context.Context, audit models.CallAudit) error
}

// FetchError is returned once all attempts for one logical request are
// spent, or immediately on a client-side (4xx) response.
type FetchError struct {
	Provider string
	Message  string
	Attempts int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %s (after %d attempts)",
		e.Provider, e.Message, e.Attempts)
}

// Response is the successful outcome of a logical request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Fetcher performs one logical HTTP operation with classified retries.
// Timeouts, connection failures and 5xx responses are transient and retried
// with exponential backoff; 4xx responses abort immediately since retrying
// a malformed or unauthorized request only burns quota. Every attempt is
// audited.
type Fetcher struct {
	apiName  string
	baseURL  string
	client   *http.Client
	audits   AuditStore
	attempts int
	log      *zap.SugaredLogger

	newBackOff func() backoff.BackOff
}

func New(apiName, baseURL string, timeout time.Duration, attempts int, audits AuditStore, log *zap.SugaredLogger) *Fetcher {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Fetcher{
		apiName:  apiName,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout, Transport: transport},
		audits:   audits,
		attempts: attempts,
		log:      log,
		newBackOff: func() backoff.BackOff {
			return utils.NewFetchBackoff()
		},
	}
}

// Request executes method against baseURL+endpoint. GET params go in the
// query string, POST params as a JSON body.
func (f *Fetcher) Request(ctx context.Context, endpoint string, params map[string]string, method string) (*Response, error) {
	attempt := 0
	var resp *Response
	var lastErr error

	operation := func() error {
		attempt++
		f.log.Debugw("Making request",
			"api", f.apiName,
			"endpoint", endpoint,
			"method", method,
			"attempt", attempt,
			"max_attempts", f.attempts,
		)

		r, err := f.attemptOnce(ctx, endpoint, params, method)
		if err != nil {
			lastErr = err
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(f.newBackOff(), uint64(f.attempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy,
		func(err error, wait time.Duration) {
			f.log.Warnw("Request attempt failed",
				"api", f.apiName,
				"endpoint", endpoint,
				"attempt", attempt,
				"retry_in", wait,
				"error", err,
			)
		})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, &FetchError{
			Provider: f.apiName,
			Message:  truncate(lastErr.Error(), maxErrorLen),
			Attempts: attempt,
		}
	}
	return resp, nil
}

// attemptOnce runs a single attempt and writes its audit row. Returned
// errors are retryable unless wrapped in backoff.Permanent.
func (f *Fetcher) attemptOnce(ctx context.Context, endpoint string, params map[string]string, method string) (*Response, error) {
	req, err := f.buildRequest(ctx, endpoint, params, method)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	start := time.Now()
	httpResp, err := f.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		// Timeouts and connection failures are transient.
		f.audit(endpoint, 0, false, err.Error(), elapsed)
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		f.audit(endpoint, httpResp.StatusCode, false, err.Error(), elapsed)
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case httpResp.StatusCode >= 500:
		msg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, truncate(string(body), maxErrorLen))
		f.audit(endpoint, httpResp.StatusCode, false, msg, elapsed)
		return nil, fmt.Errorf("server error: %s", msg)
	case httpResp.StatusCode >= 400:
		msg := fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, truncate(string(body), maxErrorLen))
		f.audit(endpoint, httpResp.StatusCode, false, msg, elapsed)
		return nil, backoff.Permanent(fmt.Errorf("client error: %s", msg))
	}

	f.audit(endpoint, httpResp.StatusCode, true, "", elapsed)
	f.log.Debugw("Request successful",
		"api", f.apiName,
		"status", httpResp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
	)
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, endpoint string, params map[string]string, method string) (*http.Request, error) {
	target := f.baseURL + endpoint

	switch method {
	case http.MethodGet, "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Accept", "application/json")
		return req, nil
	case http.MethodPost:
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}
}

// audit writes one attempt record. Audit failures are logged and swallowed;
// monitoring must never take the data path down.
func (f *Fetcher) audit(endpoint string, statusCode int, success bool, errMsg string, elapsed time.Duration) {
	row := models.CallAudit{
		APIName:        f.apiName,
		Endpoint:       endpoint,
		StatusCode:     int32(statusCode),
		Success:        success,
		ErrorMessage:   truncate(errMsg, maxErrorLen),
		ResponseTimeMs: elapsed.Milliseconds(),
		CalledAt:       time.Now().UTC(),
	}
	if err := f.audits.InsertAudit(context.Background(), row); err != nil {
		f.log.Errorw("Failed to write call audit",
			"api", f.apiName,
			"endpoint", endpoint,
			"error", err,
		)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
