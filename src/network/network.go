package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 8 << 20

var _ interfaces.INetworkManager = (*AsyncNetworkManager)(nil)

// AsyncNetworkManager performs upstream GETs with a shared rate limit and retries.
type AsyncNetworkManager struct {
	Config    *models.MConfig
	Client    *http.Client
	Limiter   *rate.Limiter
	Logger    *logger.Logger
	BaseDelay time.Duration
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	limit := rate.Inf
	if cfg.Network.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.Network.RateLimitPerSecond)
	}
	burst := int(cfg.Network.RateLimitPerSecond)
	if burst < 1 {
		burst = 1
	}

	nm := &AsyncNetworkManager{
		Config:    cfg,
		Limiter:   rate.NewLimiter(limit, burst),
		Logger:    log,
		BaseDelay: time.Second,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   nm.Config.Network.Timeout(),
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with rate limiting and retries on transient failures.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewFetchError(fmt.Sprintf("invalid url %q", urlStr), err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	var body []byte
	err = helpers.RetryWithBackoff(ctx, nm.Logger, "GET "+reqURL.Host+reqURL.Path, nm.Config.Network.MaxRetries, nm.BaseDelay, func() error {
		var doErr error
		body, doErr = nm.do(ctx, finalURL)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, finalURL string) ([]byte, error) {
	if err := nm.Limiter.Wait(ctx); err != nil {
		return nil, helpers.NewTimeoutError("waiting for upstream rate limit", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, helpers.NewFetchError("cannot build request", err)
	}
	req.Header.Set("User-Agent", nm.Config.Network.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := nm.Client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, helpers.NewTimeoutError("upstream request timed out", err)
		}
		if ctx.Err() != nil {
			return nil, helpers.NewFetchError("request cancelled", err)
		}
		return nil, &helpers.NetworkError{StreamError: helpers.StreamError{Message: "upstream unreachable", Cause: err}}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, helpers.NewRateLimitError(fmt.Sprintf("rate limited by %s", req.URL.Host), nil)
	case resp.StatusCode >= 500:
		return nil, &helpers.NetworkError{StreamError: helpers.StreamError{Message: fmt.Sprintf("bad status: %d", resp.StatusCode)}}
	case resp.StatusCode != http.StatusOK:
		return nil, helpers.NewFetchError(fmt.Sprintf("bad status: %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &helpers.NetworkError{StreamError: helpers.StreamError{Message: "reading response body", Cause: err}}
	}
	return body, nil
}
