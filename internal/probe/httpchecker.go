package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

type HTTPOptions struct {
	ConnectTimeout  time.Duration
	UserAgent       string
	FollowRedirects bool
	MaxRedirects    int
}

// HTTPChecker issues one GET per Check. Certificate verification is always on.
type HTTPChecker struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPChecker(opts HTTPOptions) *HTTPChecker {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "URLMonitor/1.0"
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	tr.TLSHandshakeTimeout = opts.ConnectTimeout
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	maxRedirects := opts.MaxRedirects
	follow := opts.FollowRedirects
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse
			}
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &HTTPChecker{Client: client, UserAgent: opts.UserAgent}
}

func (h *HTTPChecker) Check(ctx context.Context, target string) Attempt {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Attempt{Err: err}
	}
	req.Header.Set("User-Agent", h.UserAgent)

	start := time.Now()
	resp, err := h.Client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Attempt{Err: fmt.Errorf("%w: %w", domain.ErrNetwork, err), Latency: latency}
	}
	defer resp.Body.Close()
	// drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return Attempt{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Latency:    latency,
	}
}
