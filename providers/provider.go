package providers

import (
	"context"
	"time"
)

// Provider fetches one course/date tee sheet. Provider-level failures (upstream
// outages, rejections, exhausted retries) are carried inside the FetchResult so
// a caller working through hundreds of course/date tasks can continue past
// them. The returned error is reserved for configuration problems: malformed
// course attributes, missing identifiers.
type Provider interface {
	Fetch(ctx context.Context, course Course, searchDate time.Time) (FetchResult, error)
}

// Registry maps the external_api discriminator to its adapter. Adding a new
// booking backend means registering one more Provider; existing adapters are
// never touched.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(externalAPI string, p Provider) {
	r.providers[externalAPI] = p
}

// Dispatch selects the adapter for the course and runs the fetch. An unknown
// external_api fails fast with UnsupportedProviderError, never a silent no-op.
func (r *Registry) Dispatch(ctx context.Context, course Course, searchDate time.Time) (FetchResult, error) {
	var p Provider
	var ok bool
	p, ok = r.providers[course.ExternalAPI]
	if !ok {
		return FetchResult{}, &UnsupportedProviderError{API: course.ExternalAPI}
	}
	return p.Fetch(ctx, course, searchDate)
}
