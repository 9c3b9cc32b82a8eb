package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/starford/marcom/internal/apperr"
)

// HTTPConfig tunes the remote fetcher.
type HTTPConfig struct {
	Timeout       time.Duration
	MaxBytes      int64
	RatePerSecond float64 // 0 disables rate limiting
	Retries       int     // extra attempts on transient failures; 0 disables
	UserAgent     string
	AllowPrivate  bool // permit loopback and private addresses
}

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 10 << 20 // 10 MB
	maxRedirects    = 5
)

// HTTP downloads content over http(s) with host checks and a size limit.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTP creates an HTTP fetcher.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	h := &HTTP{cfg: cfg}
	h.client = &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return h.checkHost(req.URL.Hostname())
		},
	}
	if cfg.RatePerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return h
}

// Fetch implements Fetcher.
func (h *HTTP) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := ResolveDriveLink(ref)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", apperr.ErrFetch, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme: %s (only http/https)", apperr.ErrFetch, parsed.Scheme)
	}
	if err := h.checkHost(parsed.Hostname()); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}

	var data []byte
	op := func() error {
		var opErr error
		data, opErr = h.get(ctx, target)
		return opErr
	}

	if h.cfg.Retries > 0 {
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(h.cfg.Retries)), ctx)
		err = backoff.Retry(op, b)
	} else {
		err = op()
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrFetch, ref, err)
	}
	return data, nil
}

// get performs one download attempt. Failures that another attempt cannot
// fix are marked permanent.
func (h *HTTP) get(ctx context.Context, target string) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("download failed: HTTP %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if int64(len(data)) > h.cfg.MaxBytes {
		return nil, backoff.Permanent(fmt.Errorf("content too large: exceeds %d bytes", h.cfg.MaxBytes))
	}
	return data, nil
}

// checkHost rejects cloud metadata endpoints always, and loopback, private
// and link-local addresses unless AllowPrivate is set.
func (h *HTTP) checkHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	if h.cfg.AllowPrivate {
		return nil
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("blocked host: non-public address %s", host)
	}
	return nil
}
