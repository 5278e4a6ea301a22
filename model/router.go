package model

import (
	"context"
	"fmt"
)

// Router is a Model that dispatches each request to the provider named in
// Config.Provider. An empty provider name selects the default provider.
type Router struct {
	providers       map[string]Model
	defaultProvider string
}

// NewRouter builds a Router. The first registered provider becomes the
// default unless WithDefault is applied.
func NewRouter(optFns ...func(r *Router)) *Router {
	r := &Router{providers: map[string]Model{}}
	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// WithProvider registers m under name.
func WithProvider(name string, m Model) func(r *Router) {
	return func(r *Router) {
		r.providers[name] = m
		if r.defaultProvider == "" {
			r.defaultProvider = name
		}
	}
}

// WithDefault sets the provider used when Config.Provider is empty.
func WithDefault(name string) func(r *Router) {
	return func(r *Router) { r.defaultProvider = name }
}

// Stream implements Model.
func (r *Router) Stream(ctx context.Context, req Request) Stream {
	name := req.Config.Provider
	if name == "" {
		name = r.defaultProvider
	}

	m, ok := r.providers[name]
	if !ok {
		return ErrorStream(fmt.Errorf("%w: %q", ErrUnknownProvider, name))
	}

	return m.Stream(ctx, req)
}

// Info implements Model.
func (r *Router) Info() Info {
	return Info{Name: "router", Provider: r.defaultProvider}
}
