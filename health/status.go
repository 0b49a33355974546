// Package health reports component health for the /health endpoint.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	httpURLRegex    = regexp.MustCompile(`https?://[^\s"']+`)
	natsURLRegex    = regexp.MustCompile(`nats://[^\s"']+`)
	wsURLRegex      = regexp.MustCompile(`wss?://[^\s"']+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|api_?key|key|secret|authorization)\s*[:=]\s*[^,\s&}"]+`)
	bearerRegex     = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
)

// Status is the health of one component, optionally with children.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Details     any       `json:"details,omitempty"`
}

// IsHealthy reports Status == "healthy".
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded reports Status == "degraded".
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy reports Status == "unhealthy".
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

// WithDetails returns a copy carrying component-specific details.
func (s Status) WithDetails(details any) Status {
	s.Details = details
	return s
}

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == StatusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy builds a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewDegraded builds a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// NewUnhealthy builds an unhealthy status. The message is sanitized.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, SanitizeError(message))
}

// Aggregate rolls children up: any unhealthy child makes the parent
// unhealthy, otherwise any degraded child makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no components registered")
	}

	worst := StatusHealthy
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			worst = StatusUnhealthy
		case sub.IsDegraded() && worst == StatusHealthy:
			worst = StatusDegraded
		}
	}

	var out Status
	switch worst {
	case StatusUnhealthy:
		out = newStatus(component, worst, "one or more components are unhealthy")
	case StatusDegraded:
		out = newStatus(component, worst, "one or more components are degraded")
	default:
		out = newStatus(component, worst, "all components are healthy")
	}
	out.SubStatuses = make([]Status, len(subStatuses))
	copy(out.SubStatuses, subStatuses)
	return out
}

// SanitizeError strips URLs, addresses and credentials from an error
// message before it is shown to a caller. Upstream request URLs carry the
// provider key in the query string.
func SanitizeError(msg string) string {
	if msg == "" {
		return ""
	}

	out := httpURLRegex.ReplaceAllString(msg, "[URL]")
	out = natsURLRegex.ReplaceAllString(out, "[URL]")
	out = wsURLRegex.ReplaceAllString(out, "[URL]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = bearerRegex.ReplaceAllString(out, "[REDACTED]")

	lower := strings.ToLower(out)
	for _, word := range []string{"password", "token", "key", "secret", "authorization"} {
		if strings.Contains(lower, word) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}
