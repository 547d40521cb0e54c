package core

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Request represents an inbound request as seen by the dispatch pipeline
type Request interface {
	ID() string
	Method() string
	Path() string
	URL() string
	Query() url.Values
	Header(name string) string
	Headers() map[string][]string
	RemoteAddr() string
	Body() io.ReadCloser
	Context() context.Context
}

// httpRequest wraps an *http.Request behind the Request interface
type httpRequest struct {
	id      string
	httpReq *http.Request
}

// NewHTTPRequest wraps an incoming HTTP request
func NewHTTPRequest(id string, r *http.Request) Request {
	return &httpRequest{id: id, httpReq: r}
}

func (r *httpRequest) ID() string     { return r.id }
func (r *httpRequest) Method() string { return r.httpReq.Method }
func (r *httpRequest) Path() string   { return r.httpReq.URL.Path }
func (r *httpRequest) URL() string    { return r.httpReq.URL.String() }

func (r *httpRequest) Query() url.Values { return r.httpReq.URL.Query() }

func (r *httpRequest) Header(name string) string { return r.httpReq.Header.Get(name) }

func (r *httpRequest) Headers() map[string][]string {
	headers := make(map[string][]string, len(r.httpReq.Header))
	for k, v := range r.httpReq.Header {
		headers[k] = v
	}
	return headers
}

func (r *httpRequest) RemoteAddr() string { return r.httpReq.RemoteAddr }

func (r *httpRequest) Body() io.ReadCloser {
	if r.httpReq.Body != nil {
		return r.httpReq.Body
	}
	return http.NoBody
}

func (r *httpRequest) Context() context.Context { return r.httpReq.Context() }
