package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/c360/geogate/upstream/geo"
)

// GeoCall is one recorded FakeGeo.Query invocation.
type GeoCall struct {
	Endpoint string
	Params   map[string]any
}

// FakeGeo is a scripted geo.Querier.
type FakeGeo struct {
	mu        sync.Mutex
	responses map[string]func(params map[string]any) geo.Result
	calls     []GeoCall

	// Delay is applied to every Query before answering.
	Delay time.Duration
}

// NewFakeGeo creates a FakeGeo that answers unknown endpoints with
// {status:"0", info:"no fake response"}.
func NewFakeGeo() *FakeGeo {
	return &FakeGeo{responses: make(map[string]func(map[string]any) geo.Result)}
}

// On sets a fixed response for endpoint.
func (f *FakeGeo) On(endpoint string, result geo.Result) *FakeGeo {
	return f.OnFunc(endpoint, func(map[string]any) geo.Result { return result })
}

// OnFunc sets a computed response for endpoint.
func (f *FakeGeo) OnFunc(endpoint string, fn func(params map[string]any) geo.Result) *FakeGeo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[endpoint] = fn
	return f
}

// Query implements geo.Querier.
func (f *FakeGeo) Query(ctx context.Context, endpoint string, params map[string]any) geo.Result {
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}

	f.mu.Lock()
	f.calls = append(f.calls, GeoCall{Endpoint: endpoint, Params: copied})
	fn := f.responses[endpoint]
	delay := f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return geo.Failure("context done")
		}
	}
	if fn == nil {
		return geo.Failure("no fake response")
	}

	// Shallow copy so callers can attach fields without touching the script.
	out := geo.Result{}
	for k, v := range fn(copied) {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the recorded calls in order.
func (f *FakeGeo) Calls() []GeoCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]GeoCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Endpoints returns the endpoint of every recorded call in order.
func (f *FakeGeo) Endpoints() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Endpoint
	}
	return out
}

// CallCount returns how many times endpoint was queried.
func (f *FakeGeo) CallCount(endpoint string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Endpoint == endpoint {
			n++
		}
	}
	return n
}
