package httpclient

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"adstudio/internal/metrics"
)

type Options struct {
	PreferIPv4 bool
	Timeout    time.Duration
	// Transport replaces the default dialing transport, mainly for tests.
	Transport http.RoundTripper
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	base := opts.Transport
	if base == nil {
		base = newTransport(opts.PreferIPv4)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: &instrumented{next: base},
	}
}

func newTransport(preferIPv4 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if preferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
		// Image generation holds the response headers until the image is done.
		ResponseHeaderTimeout: 150 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

type instrumented struct {
	next http.RoundTripper
}

func (t *instrumented) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	metrics.OutboundRequestsTotal.WithLabelValues(req.URL.Host, status).Inc()
	return resp, err
}
