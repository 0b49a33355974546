package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/c360/geogate/pkg/cache"
	"github.com/c360/geogate/upstream/geo"
)

var coordPattern = regexp.MustCompile(`^-?\d+(\.\d+)?,-?\d+(\.\d+)?$`)

// IsCoordinate reports whether s is already "lng,lat".
func IsCoordinate(s string) bool {
	return coordPattern.MatchString(strings.TrimSpace(s))
}

// ResolveError is a failed place name lookup. Role is "origin" or
// "destination".
type ResolveError struct {
	Role  string
	Input string
	Info  string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve %s '%s' to coordinates", e.Role, e.Input)
}

// Resolver turns place names into coordinates via geocode/geo.
type Resolver struct {
	geo    geo.Querier
	cache  *cache.TTL[string]
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil cache disables caching.
func NewResolver(q geo.Querier, c *cache.TTL[string], logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{geo: q, cache: c, logger: logger.With("component", "resolver")}
}

// Resolve returns input unchanged when it is coordinate-shaped, otherwise
// the location of the first geocode match.
func (r *Resolver) Resolve(ctx context.Context, role, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if coordPattern.MatchString(trimmed) {
		return trimmed, nil
	}
	if trimmed == "" {
		return "", &ResolveError{Role: role, Input: input, Info: "empty input"}
	}

	if r.cache != nil {
		if loc, ok := r.cache.Get(trimmed); ok {
			return loc, nil
		}
	}

	res := r.geo.Query(ctx, "geocode/geo", map[string]any{"address": trimmed, "city": "全国"})
	var location string
	if res.OK() {
		if codes := res.List("geocodes"); len(codes) > 0 {
			location, _ = codes[0]["location"].(string)
		}
	}
	if location == "" {
		r.logger.Info("place name not resolved", "role", role, "input", trimmed, "info", res.Info())
		return "", &ResolveError{Role: role, Input: input, Info: res.Info()}
	}

	r.logger.Debug("place name resolved", "role", role, "input", trimmed, "location", location)
	if r.cache != nil {
		r.cache.Set(trimmed, location)
	}
	return location, nil
}
