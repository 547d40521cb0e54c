package core

import "context"

// Handler processes requests
type Handler func(context.Context, Request) (Response, error)

// Middleware wraps handlers
type Middleware func(Handler) Handler

// Chain applies middlewares to a handler, first middleware outermost
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
