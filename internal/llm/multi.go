package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Route names the provider that serves one model.
type Route struct {
	Model    string
	Provider string
}

// Router sends each chat request to the provider configured for its
// model. Models without a route go to the default provider. It is built
// once at startup and read-only afterwards.
type Router struct {
	providers map[string]Client
	routes    map[string]string
	def       string
}

// NewRouter builds a Router. defaultProvider must be one of providers,
// and every route must name a registered provider.
func NewRouter(defaultProvider string, providers map[string]Client, routes []Route) (*Router, error) {
	if providers[defaultProvider] == nil {
		return nil, fmt.Errorf("default provider %q is not registered", defaultProvider)
	}
	r := &Router{
		providers: make(map[string]Client, len(providers)),
		routes:    make(map[string]string, len(routes)),
		def:       defaultProvider,
	}
	for name, c := range providers {
		if c != nil {
			r.providers[name] = c
		}
	}
	for _, rt := range routes {
		if r.providers[rt.Provider] == nil {
			return nil, fmt.Errorf("model %q routed to unregistered provider %q", rt.Model, rt.Provider)
		}
		r.routes[rt.Model] = rt.Provider
	}
	return r, nil
}

// ProviderFor reports which provider serves model.
func (r *Router) ProviderFor(model string) string {
	if p, ok := r.routes[model]; ok {
		return p
	}
	return r.def
}

// Chat implements Client.
func (r *Router) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	provider := r.ProviderFor(model)
	resp, err := r.providers[provider].Chat(ctx, model, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", provider, err)
	}
	return resp, nil
}

// Ping checks every registered provider and reports all that fail.
func (r *Router) Ping(ctx context.Context) error {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := r.providers[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
