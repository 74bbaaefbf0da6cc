package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"

	"github.com/rickgao/tradelink/internal/version"
)

// APIError is a non-2xx answer from the venue API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the venue may answer differently later:
// server errors and rate limiting.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// get fetches path and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// doWithRetry runs one request on the client's retry schedule. Each
// attempt builds and signs a new request, so no signature is ever reused.
// Requests that cannot be built, and venue answers that are not retryable,
// end the loop at once.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	attempts := 0
	op := func() ([]byte, error) {
		attempts++
		req, err := c.newRequest(ctx, method, path, query)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		body, err := c.send(req)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, backoff.Permanent(err)
		}
		return body, err
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.retrySchedule()),
		backoff.WithMaxTries(uint(max(c.maxRetries, 0))+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying request",
				"method", method,
				"path", path,
				"attempt", attempts,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err == nil {
		return body, nil
	}

	var perm *backoff.PermanentError
	switch {
	case errors.As(err, &perm):
		return nil, perm.Err
	case ctx.Err() != nil:
		return nil, err
	default:
		return nil, fmt.Errorf("max retries exceeded after %d attempts: %w", attempts, err)
	}
}

// retrySchedule doubles from the configured base delay with +/-50% jitter.
func (c *Client) retrySchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBackoff
	b.Multiplier = 2
	return b
}

// doRequest performs a single signed request without retrying.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, query)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// newRequest builds a request for path and signs it.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if c.signer == nil {
		return req, nil
	}
	signed, err := c.signer.SignRequest(method, path)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	for k, v := range signed {
		req.Header.Set(k, v)
	}
	return req, nil
}

// send executes req and returns the body of a 2xx answer. Anything else
// comes back as an *APIError carrying the body.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}
	return body, nil
}
