package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/upstream/geo"
	"github.com/c360/geogate/upstream/llm"
)

// Params are the caller-supplied action parameters.
type Params map[string]any

// HandlerFunc serves one action. It never returns a Go error: failures are
// {status:"0"} results.
type HandlerFunc func(ctx context.Context, params Params) geo.Result

// Dispatcher routes an action name to its handler. The handler table is
// fixed at construction and read without locking.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *metric.Metrics
	resolver *Resolver
	extra    map[string]HandlerFunc
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records enrichment outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithResolver replaces the default uncached Resolver.
func WithResolver(r *Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithHandler adds or overrides a handler.
func WithHandler(action string, h HandlerFunc) Option {
	return func(o *options) {
		if o.extra == nil {
			o.extra = make(map[string]HandlerFunc)
		}
		o.extra[action] = h
	}
}

// New builds a Dispatcher with the standard action table.
func New(q geo.Querier, c llm.Completer, opts ...Option) *Dispatcher {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if c == nil {
		c = llm.Disabled{}
	}
	if o.resolver == nil {
		o.resolver = NewResolver(q, nil, o.logger)
	}

	h := &handlers{
		geo:      q,
		llm:      c,
		resolver: o.resolver,
		logger:   o.logger.With("component", "handlers"),
		metrics:  o.metrics,
	}

	d := &Dispatcher{
		handlers: map[string]HandlerFunc{
			ActionSearchPOI:     h.searchPOI,
			ActionRoutePlanning: h.routePlanning,
			ActionGeocode:       h.passthrough("geocode/geo"),
			ActionRegeocode:     h.passthrough("geocode/regeo"),
			ActionWeather:       h.weather,
			ActionDistrict:      h.passthrough("config/district"),
			ActionTrafficStatus: h.trafficStatus,
		},
		logger:  o.logger.With("component", "dispatcher"),
		metrics: o.metrics,
	}
	for name, fn := range o.extra {
		d.handlers[name] = fn
	}
	return d
}

// Actions returns the registered action names, sorted.
func (d *Dispatcher) Actions() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether action has a handler.
func (d *Dispatcher) Supports(action string) bool {
	_, ok := d.handlers[action]
	return ok
}

// Dispatch runs the handler for action. Unknown actions and handler panics
// yield a {status:"0"} result.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, params Params) (result geo.Result) {
	fn, ok := d.handlers[action]
	if !ok {
		return geo.Failuref("unsupported action: %s", action)
	}
	if params == nil {
		params = Params{}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "action", action, "panic", r, "stack", string(debug.Stack()))
			result = geo.Failuref("internal error handling %s", action)
		}
	}()

	result = fn(ctx, params)
	if result == nil {
		return geo.Failure(fmt.Sprintf("no result from %s", action))
	}
	return result
}
