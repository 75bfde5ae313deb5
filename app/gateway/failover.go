package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrAllEndpointsFailed = errors.New("all gateway endpoints failed")

// Endpoints is a primary/secondary regional topology. Secondary is optional.
type Endpoints struct {
	Primary   string
	Secondary string
}

func (e Endpoints) list() []string {
	out := make([]string, 0, 2)
	for _, base := range []string{e.Primary, e.Secondary} {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			out = append(out, base)
		}
	}
	return out
}

// TransportError marks a failure that should move the call to the next endpoint.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error at %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WithFailover runs call against the primary endpoint and, only on a TransportError, against
// the secondary. Any other error is returned as is. When every endpoint fails the errors are
// joined under ErrAllEndpointsFailed.
func WithFailover[T any](ctx context.Context, endpoints Endpoints, call func(ctx context.Context, baseURL string) (T, error)) (T, error) {
	var zero T
	bases := endpoints.list()
	if len(bases) == 0 {
		return zero, fmt.Errorf("%w: no endpoint configured", ErrAllEndpointsFailed)
	}

	errs := []error{ErrAllEndpointsFailed}
	for _, base := range bases {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := call(ctx, base)
		if err == nil {
			return out, nil
		}
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return zero, err
		}
		errs = append(errs, err)
	}
	return zero, errors.Join(errs...)
}
