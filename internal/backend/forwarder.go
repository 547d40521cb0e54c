package backend

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gateway/internal/core"
	"gateway/pkg/errors"
)

// Forwarder sends a request to one backend URL and returns its
// response. The path is the route suffix left after prefix matching,
// so backends see paths relative to their mount point.
type Forwarder interface {
	Forward(ctx context.Context, req core.Request, backendURL, path string, timeout time.Duration) (core.Response, error)
}

// HTTPForwarder proxies requests over HTTP, bounding each call with the
// route's timeout. Hop-by-hop headers are stripped and the standard
// X-Forwarded headers are set.
type HTTPForwarder struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPForwarder creates a forwarder using the given client
func NewHTTPForwarder(client *http.Client, defaultTimeout time.Duration) *HTTPForwarder {
	if client == nil {
		client = &http.Client{}
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &HTTPForwarder{
		client:         client,
		defaultTimeout: defaultTimeout,
	}
}

// Forward proxies the request to backendURL, appending the request's
// path and query. A deadline overrun is reported as a gateway_timeout
// error; connection failures as unavailable.
func (f *HTTPForwarder) Forward(ctx context.Context, req core.Request, backendURL, path string, timeout time.Duration) (core.Response, error) {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := buildTargetURL(backendURL, path, req.Query())
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "invalid backend URL").
			WithCause(err).
			WithDetail("url", backendURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), target, req.Body())
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "building backend request").WithCause(err)
	}

	for key, values := range req.Headers() {
		if isHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpReq.Header.Set("X-Forwarded-For", clientIP(req.RemoteAddr()))
	httpReq.Header.Set("X-Forwarded-Proto", "http")
	if host := req.Header("Host"); host != "" {
		httpReq.Header.Set("X-Forwarded-Host", host)
	}
	if id := req.ID(); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewError(errors.ErrorTypeTimeout, "backend did not respond in time").
				WithCause(err).
				WithDetail("url", backendURL).
				WithDetail("timeout", timeout.String())
		}
		return nil, errors.NewError(errors.ErrorTypeUnavailable, "backend request failed").
			WithCause(err).
			WithDetail("url", backendURL)
	}

	return &httpResponse{
		statusCode: resp.StatusCode,
		headers:    resp.Header,
		body:       resp.Body,
	}, nil
}

// buildTargetURL joins the backend base URL with the forward path and
// query. The base may carry its own path prefix.
func buildTargetURL(backendURL, path string, query url.Values) (string, error) {
	base, err := url.Parse(backendURL)
	if err != nil {
		return "", err
	}
	if base.Scheme == "" {
		base.Scheme = "http"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	base.Path = strings.TrimSuffix(base.Path, "/") + path
	base.RawQuery = query.Encode()
	return base.String(), nil
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(header string) bool {
	return hopByHopHeaders[strings.ToLower(header)]
}

// httpResponse streams a backend response body through to the caller
type httpResponse struct {
	statusCode int
	headers    http.Header
	body       io.ReadCloser
}

func (r *httpResponse) StatusCode() int              { return r.statusCode }
func (r *httpResponse) Headers() map[string][]string { return r.headers }
func (r *httpResponse) Body() io.ReadCloser          { return r.body }
