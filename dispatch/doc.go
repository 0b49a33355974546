// Package dispatch maps action names to handlers that query the geospatial
// provider and optionally annotate the result with completion text.
//
// Both transports share one Dispatcher. Dispatch never fails: unknown
// actions, upstream failures and handler panics all come back as a
// {status:"0", info:...} result for the transport to wrap in its normal
// response.
//
// # Enrichment
//
// search_poi, route_planning, weather and traffic_status ask the completer
// for advice once the provider returns a successful, non-empty result. A
// silent completer leaves the result as the provider returned it.
//
// # Place name resolution
//
// route_planning passes origin and destination through a Resolver. Inputs
// already shaped "lng,lat" are used as-is; anything else is geocoded first,
// and a failed lookup returns a ResolveError without issuing the route query.
package dispatch
