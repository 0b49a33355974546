// Package cache provides TTL, an expiring in-memory cache.
//
// The geo client caches place-name to coordinate lookups so repeated route
// requests for the same landmark do not hit the upstream twice:
//
//	c, err := cache.NewTTL[string](ctx, 10*time.Minute, time.Minute)
//	if coords, ok := c.Get("Eiffel Tower"); ok { ... }
//	c.Set("Eiffel Tower", "2.294481,48.858370")
//
// Statistics are always tracked; WithMetrics additionally exports lookups to
// Prometheus.
package cache
