package core

import (
	"bytes"
	"io"
)

// Response represents an outgoing response
type Response interface {
	StatusCode() int
	Headers() map[string][]string
	Body() io.ReadCloser
}

// response is a simple buffered Response implementation
type response struct {
	statusCode int
	headers    map[string][]string
	body       []byte
}

// NewResponse creates a buffered response
func NewResponse(statusCode int, headers map[string][]string, body []byte) Response {
	if headers == nil {
		headers = make(map[string][]string)
	}
	return &response{
		statusCode: statusCode,
		headers:    headers,
		body:       body,
	}
}

func (r *response) StatusCode() int              { return r.statusCode }
func (r *response) Headers() map[string][]string { return r.headers }
func (r *response) Body() io.ReadCloser          { return io.NopCloser(bytes.NewReader(r.body)) }
