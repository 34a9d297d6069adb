package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bskygrab/pkg/cache"
	"bskygrab/pkg/errors"
	"bskygrab/pkg/logger"
	"bskygrab/pkg/retry"
)

const (
	defaultTimeout = 30 * time.Second

	// DefaultRateLimitWait is the fixed pause before retrying a 429
	// response. Retries are not capped and the interval does not grow;
	// the limit is assumed to lift eventually.
	DefaultRateLimitWait = 60 * time.Second

	// AccessTokenMaxAge bounds how long a cached bearer credential is
	// trusted before a new one is derived.
	AccessTokenMaxAge = 3600 * time.Second

	// RefreshTokenMaxAge bounds how long a cached refresh token is used
	// to skip the full login.
	RefreshTokenMaxAge = 84 * 86400 * time.Second
)

// Client talks to the Bluesky XRPC API for a single extraction run. With
// credentials it operates against AuthHost and authenticates lazily
// before every call; without them it reads from PublicHost and never
// attaches a bearer header.
type Client struct {
	httpClient *http.Client

	// headersMu guards headers: the pagination goroutine rewrites the
	// Authorization header while pool workers read headers for blob
	// fetches.
	headersMu sync.RWMutex
	headers   map[string]string

	root     string
	blobRoot string
	username string
	password string
	store    cache.Store
	handles  *cache.Memo[string, string]
	retrier  *retry.Retrier
	logger   logger.Logger

	// RateLimitWait is settable so tests do not sit out real minutes.
	RateLimitWait time.Duration
}

// NewClient creates a client. Empty username selects public read-only
// mode. The store holds bearer credentials, refresh tokens and resolved
// handles across runs.
func NewClient(username, password string, store cache.Store, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if store == nil {
		store = cache.NewMemoryStore()
	}

	root := PublicHost
	if username != "" {
		root = AuthHost
	}

	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		headers: map[string]string{
			"Accept":     "application/json",
			"User-Agent": "bskygrab/1.0",
		},
		root:          root,
		blobRoot:      AuthHost,
		username:      username,
		password:      password,
		store:         store,
		handles:       cache.NewMemo[string, string](),
		retrier:       retry.NewRetrier(retry.DefaultConfig()),
		logger:        log,
		RateLimitWait: DefaultRateLimitWait,
	}
}

// SetTimeout overrides the HTTP timeout for API and blob requests
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// SetHeader sets a custom header attached to every request
func (c *Client) SetHeader(key, value string) {
	c.headersMu.Lock()
	c.headers[key] = value
	c.headersMu.Unlock()
}

// applyHeaders copies the client headers onto a request under the
// read lock
func (c *Client) applyHeaders(req *http.Request) {
	c.headersMu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.headersMu.RUnlock()
}

// SetRetrier overrides the retrier used for blob downloads. API calls
// never go through it; their only recovery is the fixed 429 wait.
func (c *Client) SetRetrier(r *retry.Retrier) {
	c.retrier = r
}

// SetRoot points the client at a different host, for self-hosted PDS
// instances
func (c *Client) SetRoot(root string) {
	c.root = root
}

// SetBlobRoot points blob fetches at a different host. Blobs normally
// live on the PDS regardless of which root serves the queries.
func (c *Client) SetBlobRoot(root string) {
	c.blobRoot = root
}

// BlobURL builds the fetch URL for a blob against the client's blob host
func (c *Client) BlobURL(did, link string) string {
	params := url.Values{}
	params.Set("did", did)
	params.Set("cid", link)
	return fmt.Sprintf("%s?%s", xrpcURL(c.blobRoot, EndpointGetBlob), params.Encode())
}

// Root returns the host root the client talks to
func (c *Client) Root() string {
	return c.root
}

// call performs one authenticated GET against an XRPC endpoint and
// decodes the response object. 429 responses are absorbed here with a
// fixed wait; any other status >= 400 is fatal. Transport errors bubble
// up unwrapped.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values) (map[string]json.RawMessage, error) {
	callURL := xrpcURL(c.root, endpoint)

	for {
		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL, nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = params.Encode()
		c.applyHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		logger.LogRequest(c.logger, endpoint, resp.StatusCode, time.Since(start))

		if resp.StatusCode < 400 {
			var page map[string]json.RawMessage
			err := json.NewDecoder(resp.Body).Decode(&page)
			resp.Body.Close()
			if err != nil {
				return nil, &errors.Error{
					Type:    errors.ErrorTypeParsing,
					Message: fmt.Sprintf("failed to parse response: %v", err),
					Code:    resp.StatusCode,
				}
			}
			return page, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			logger.LogRateLimited(c.logger, endpoint, c.RateLimitWait)
			if err := retry.Wait(ctx, c.RateLimitWait); err != nil {
				return nil, err
			}
			continue
		}

		c.logger.DebugWithFields("server response", map[string]interface{}{
			"endpoint": endpoint,
			"body":     string(body),
		})
		return nil, &errors.RequestError{
			StatusCode: resp.StatusCode,
			Reason:     statusReason(resp),
		}
	}
}

// DownloadBlob fetches a binary asset. Unlike API calls, downloads go
// through the retrier since a lost image is recoverable without
// abandoning the run.
func (c *Client) DownloadBlob(ctx context.Context, blobURL string) ([]byte, error) {
	var data []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
		if err != nil {
			return &errors.Error{
				Type:    errors.ErrorTypeUnknown,
				Message: fmt.Sprintf("failed to create request: %v", err),
			}
		}
		c.applyHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &errors.Error{
				Type:    errors.ErrorTypeNetwork,
				Message: fmt.Sprintf("network error: %v", err),
			}
		}
		defer resp.Body.Close()

		if err := checkResponseStatus(resp); err != nil {
			return err
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return &errors.Error{
				Type:    errors.ErrorTypeNetwork,
				Message: fmt.Sprintf("failed to read blob data: %v", err),
				Code:    resp.StatusCode,
			}
		}
		return nil
	}

	if err := c.retrier.WithContext(ctx).Do(op); err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("blob downloaded", map[string]interface{}{
		"url":  blobURL,
		"size": len(data),
	})
	return data, nil
}

// statusReason extracts the reason phrase from the status line so
// non-standard server phrases survive; a bare status code falls back to
// the canonical text
func statusReason(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// checkResponseStatus maps a blob-fetch status to a typed error
func checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &errors.Error{
			Type:    errors.ErrorTypeAuth,
			Message: "authentication required",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusNotFound:
		return &errors.Error{
			Type:    errors.ErrorTypeNotFound,
			Message: "resource not found",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &errors.Error{
			Type:    errors.ErrorTypeRateLimit,
			Message: "rate limit exceeded",
			Code:    resp.StatusCode,
		}
	case resp.StatusCode >= 500:
		return &errors.Error{
			Type:    errors.ErrorTypeServerError,
			Message: "server error",
			Code:    resp.StatusCode,
		}
	default:
		return &errors.Error{
			Type:    errors.ErrorTypeUnknown,
			Message: fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
			Code:    resp.StatusCode,
		}
	}
}
