package http

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/c360/geogate/dispatch"
	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/events"
	"github.com/c360/geogate/gateway"
	"github.com/c360/geogate/health"
	"github.com/c360/geogate/upstream/geo"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	ServerTime        string `json:"server_time"`
	ServerVersion     string `json:"server_version"`
	Uptime            string `json:"uptime"`
}

// handleAction dispatches {action}. The HTTP status is always 200; the
// body's status field carries the outcome.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	action := chi.URLParam(r, "action")

	params, err := s.readParams(w, r)
	var result geo.Result
	if err != nil {
		result = geo.Failure(err.Error())
	} else {
		result = s.dispatcher.Dispatch(r.Context(), action, params)
	}

	elapsed := time.Since(start)
	status := result.Status()
	s.metrics.RecordRequest(action, gateway.TransportHTTP, status, elapsed)
	s.events.Request(r.Context(), events.RequestEvent{
		Action:     action,
		Transport:  gateway.TransportHTTP,
		RequestID:  requestIDFrom(r.Context()),
		Status:     status,
		Info:       result.Info(),
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  s.now(),
	})

	writeJSON(w, http.StatusOK, result)
}

// readParams collects parameters from the query string and, for POST, a
// JSON or form body. Body values override query values.
func (s *Server) readParams(w http.ResponseWriter, r *http.Request) (dispatch.Params, error) {
	params := fromValues(r.URL.Query())
	if r.Method != http.MethodPost {
		return params, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	defer r.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err, s.cfg.MaxBodySize)
		}
		for k, v := range fromValues(r.PostForm) {
			params[k] = v
		}
		return params, nil
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err, s.cfg.MaxBodySize)
		}
		if len(body) == 0 {
			return params, nil
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		for k, v := range fields {
			params[k] = v
		}
		return params, nil
	}
}

func bodyError(err error, limit int64) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return errors.New("failed to read request body")
}

// fromValues keeps single values as strings and repeated keys as lists.
func fromValues(values url.Values) dispatch.Params {
	params := make(dispatch.Params, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
		case 1:
			params[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			params[k] = list
		}
	}
	return params
}

// handleStatus reads the connection count. It never touches the registry.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.connections != nil {
		active = s.connections.Len()
	}
	now := s.now()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:            "1",
		ActiveConnections: active,
		ServerTime:        gateway.Timestamp(now),
		ServerVersion:     s.cfg.Version,
		Uptime:            now.Sub(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var st health.Status
	if s.health != nil {
		st = s.health()
	} else {
		st = s.Health()
	}
	code := http.StatusOK
	if st.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := gateway.Encode(v)
	if err != nil {
		http.Error(w, `{"status":"0","info":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
