// Package retry wraps an operation in bounded exponential backoff.
//
// The geo client uses it to repeat upstream requests that failed for
// transient reasons:
//
//	p := retry.DefaultPolicy()
//	p.Retryable = errors.IsTransient
//	body, err := retry.DoValue(ctx, p, func(ctx context.Context) ([]byte, error) {
//	    return c.fetch(ctx, u)
//	})
//
// Errors wrapped with Permanent stop the loop immediately.
package retry
