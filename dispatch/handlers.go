package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/upstream/geo"
	"github.com/c360/geogate/upstream/llm"
)

// Registered action names.
const (
	ActionSearchPOI     = "search_poi"
	ActionRoutePlanning = "route_planning"
	ActionGeocode       = "geocode"
	ActionRegeocode     = "regeocode"
	ActionWeather       = "weather"
	ActionDistrict      = "district"
	ActionTrafficStatus = "traffic_status"
)

// Enrichment fields attached on success.
const (
	FieldEnhancedInfo    = "enhanced_info"
	FieldRouteAnalysis   = "route_analysis"
	FieldWeatherAdvice   = "weather_advice"
	FieldTrafficAnalysis = "traffic_analysis"
)

type handlers struct {
	geo      geo.Querier
	llm      llm.Completer
	resolver *Resolver
	logger   *slog.Logger
	metrics  *metric.Metrics
}

func (h *handlers) passthrough(endpoint string) HandlerFunc {
	return func(ctx context.Context, params Params) geo.Result {
		return h.geo.Query(ctx, endpoint, params)
	}
}

// enrich asks the completer for text and attaches it under field. A silent
// completer leaves result untouched.
func (h *handlers) enrich(ctx context.Context, action string, result geo.Result, field, prompt string) {
	text, ok := h.llm.Complete(ctx, prompt, "")
	h.metrics.RecordEnrichment(action, ok)
	if !ok {
		h.logger.Debug("enrichment skipped", "action", action)
		return
	}
	result[field] = text
}

func (h *handlers) searchPOI(ctx context.Context, params Params) geo.Result {
	result := h.geo.Query(ctx, "place/text", params)
	if !result.OK() || !result.Has("pois") {
		return result
	}

	pois := result.List("pois")
	if len(pois) > 3 {
		pois = pois[:3]
	}
	prompt := fmt.Sprintf(`Analyze these AMap point-of-interest search results in more detail.
Keywords: %s
City: %s
Results: %s

Describe what characterizes each place, its surroundings and who it suits, then recommend a choice.`,
		text(params["keywords"]), text(params["city"]), compactJSON(pois))

	h.enrich(ctx, ActionSearchPOI, result, FieldEnhancedInfo, prompt)
	return result
}

func (h *handlers) routePlanning(ctx context.Context, params Params) geo.Result {
	origin, destination, err := h.resolveEndpoints(ctx, text(params["origin"]), text(params["destination"]))
	if err != nil {
		var re *ResolveError
		if errors.As(err, &re) {
			return geo.Failure(re.Error())
		}
		return geo.Failuref("route planning failed: %s", err.Error())
	}

	query := make(map[string]any, len(params))
	for k, v := range params {
		query[k] = v
	}
	query["origin"] = origin
	query["destination"] = destination

	result := h.geo.Query(ctx, "direction/driving", query)
	if !result.OK() || !result.Has("route") {
		return result
	}

	prompt := fmt.Sprintf(`Analyze this AMap driving route.
Origin: %s
Destination: %s
Route: %s

Estimate likely congestion, suggest the best departure time and describe the character of the route.`,
		text(params["origin"]), text(params["destination"]), compactJSON(result["route"]))

	h.enrich(ctx, ActionRoutePlanning, result, FieldRouteAnalysis, prompt)
	return result
}

// resolveEndpoints resolves both ends concurrently. An origin failure
// cancels the destination lookup and wins over a destination failure
// regardless of which finished first.
func (h *handlers) resolveEndpoints(ctx context.Context, origin, destination string) (string, string, error) {
	var (
		orig, dest         string
		originErr, destErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orig, originErr = h.resolver.Resolve(gctx, "origin", origin)
		return originErr
	})
	g.Go(func() error {
		// Not returned: a destination failure must not cancel the origin.
		dest, destErr = h.resolver.Resolve(gctx, "destination", destination)
		return nil
	})
	_ = g.Wait()

	if originErr != nil {
		return "", "", originErr
	}
	if destErr != nil {
		return "", "", destErr
	}
	return orig, dest, nil
}

func (h *handlers) weather(ctx context.Context, params Params) geo.Result {
	result := h.geo.Query(ctx, "weather/weatherInfo", params)
	if !result.OK() {
		return result
	}
	lives := result.List("lives")
	if len(lives) == 0 {
		return result
	}

	live := lives[0]
	prompt := fmt.Sprintf(`Give travel advice for this AMap live weather report.
City: %s
Weather: %s
Temperature: %s°C
Wind: %s
Humidity: %s%%

Suggest how to get around today, what to wear and which activities fit.`,
		text(live["city"]), text(live["weather"]), text(live["temperature"]),
		text(live["windpower"]), text(live["humidity"]))

	h.enrich(ctx, ActionWeather, result, FieldWeatherAdvice, prompt)
	return result
}

func (h *handlers) trafficStatus(ctx context.Context, params Params) geo.Result {
	result := h.geo.Query(ctx, "traffic/status/rectangle", params)
	if !result.OK() || !result.Has("trafficinfo") {
		return result
	}

	prompt := fmt.Sprintf(`Analyze this AMap traffic status.
Area: %s
Traffic: %s

Suggest likely causes of congestion and routes that avoid it.`,
		text(params["rectangle"]), compactJSON(result["trafficinfo"]))

	h.enrich(ctx, ActionTrafficStatus, result, FieldTrafficAnalysis, prompt)
	return result
}

// text renders a decoded JSON value for a prompt or lookup.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
