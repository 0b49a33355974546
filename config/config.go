package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/pkg/tlsutil"
)

// Duration is a time.Duration that reads and writes as a Go duration
// string ("90s", "5m"). Bare numbers are taken as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "5m" style strings or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
	return nil
}

// Config is the complete GeoGate configuration.
type Config struct {
	Version string       `json:"version"`
	Server  ServerConfig `json:"server"`
	Geo     GeoConfig    `json:"geo"`
	LLM     LLMConfig    `json:"llm"`
	Events  EventsConfig `json:"events"`
	Cache   CacheConfig  `json:"cache"`
	Log     LogConfig    `json:"log"`
}

// ServerConfig holds both transports.
type ServerConfig struct {
	WebSocket WebSocketConfig `json:"websocket"`
	HTTP      HTTPConfig      `json:"http"`
	// ShutdownTimeout bounds the whole graceful shutdown sequence.
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// WebSocketConfig configures the bidirectional transport.
type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`
	MaxConnections int      `json:"max_connections"`
	MaxMessageSize int64    `json:"max_message_size"`
	IdleTimeout    Duration `json:"idle_timeout"`
	SweepInterval  Duration `json:"sweep_interval"`
	WriteTimeout   Duration `json:"write_timeout"`
	Workers        int      `json:"workers"`
	QueueSize      int      `json:"queue_size"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	TLS tlsutil.ServerConfig `json:"tls"`
}

// HTTPConfig configures the stateless transport.
type HTTPConfig struct {
	Enabled      bool     `json:"enabled"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	MaxBodySize  int64    `json:"max_body_size"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`

	TLS tlsutil.ServerConfig `json:"tls"`
}

// GeoConfig configures the geospatial provider client.
type GeoConfig struct {
	BaseURL       string   `json:"base_url"`
	APIKey        string   `json:"api_key"`
	Timeout       Duration `json:"timeout"`
	RateLimit     float64  `json:"rate_limit"`
	Burst         int      `json:"burst"`
	RetryAttempts int      `json:"retry_attempts"`
}

// LLMConfig configures the completion service client. An empty APIKey
// disables enrichment.
type LLMConfig struct {
	BaseURL      string   `json:"base_url"`
	APIKey       string   `json:"api_key"`
	Model        string   `json:"model"`
	Temperature  float32  `json:"temperature"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Timeout      Duration `json:"timeout"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// EventsConfig configures lifecycle and audit event publishing. An empty
// NATSURL disables it.
type EventsConfig struct {
	NATSURL       string   `json:"nats_url,omitempty"`
	SubjectPrefix string   `json:"subject_prefix"`
	ClientName    string   `json:"client_name"`
	MaxReconnects int      `json:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// Enabled reports whether a NATS URL is configured.
func (e EventsConfig) Enabled() bool { return e.NATSURL != "" }

// CacheConfig configures the geocode lookup cache.
type CacheConfig struct {
	Enabled       bool     `json:"enabled"`
	GeocodeTTL    Duration `json:"geocode_ttl"`
	SweepInterval Duration `json:"sweep_interval"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			WebSocket: WebSocketConfig{
				Enabled:        true,
				Host:           "0.0.0.0",
				Port:           6789,
				Path:           "/",
				MaxConnections: 100,
				MaxMessageSize: 10 << 20,
				IdleTimeout:    Duration(5 * time.Minute),
				SweepInterval:  Duration(time.Minute),
				WriteTimeout:   Duration(10 * time.Second),
				Workers:        16,
				QueueSize:      256,
			},
			HTTP: HTTPConfig{
				Enabled:      true,
				Host:         "0.0.0.0",
				Port:         5000,
				ReadTimeout:  Duration(15 * time.Second),
				WriteTimeout: Duration(60 * time.Second),
				MaxBodySize:  1 << 20,
				CORSOrigins:  []string{"*"},
			},
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Geo: GeoConfig{
			BaseURL:       "https://restapi.amap.com/v3",
			Timeout:       Duration(10 * time.Second),
			RateLimit:     50,
			Burst:         10,
			RetryAttempts: 2,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			Temperature: 0.3,
			Timeout:     Duration(30 * time.Second),
		},
		Events: EventsConfig{
			SubjectPrefix: "geogate",
			ClientName:    "geogate",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Cache: CacheConfig{
			Enabled:       true,
			GeocodeTTL:    Duration(10 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks ranges and required fields. Every problem is reported,
// joined into one invalid-config error.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	ws := c.Server.WebSocket
	httpCfg := c.Server.HTTP
	if !ws.Enabled && !httpCfg.Enabled {
		add("at least one of server.websocket and server.http must be enabled")
	}
	if ws.Enabled {
		if !validPort(ws.Port) {
			add("server.websocket.port %d out of range", ws.Port)
		}
		if ws.MaxConnections <= 0 {
			add("server.websocket.max_connections must be positive")
		}
		if ws.MaxMessageSize <= 0 {
			add("server.websocket.max_message_size must be positive")
		}
		if ws.IdleTimeout <= 0 {
			add("server.websocket.idle_timeout must be positive")
		}
		if ws.SweepInterval <= 0 {
			add("server.websocket.sweep_interval must be positive")
		}
		if ws.Workers <= 0 || ws.QueueSize <= 0 {
			add("server.websocket.workers and queue_size must be positive")
		}
		if !strings.HasPrefix(ws.Path, "/") {
			add("server.websocket.path must start with /")
		}
		validateServerTLS("server.websocket.tls", ws.TLS, add)
	}
	if httpCfg.Enabled {
		if !validPort(httpCfg.Port) {
			add("server.http.port %d out of range", httpCfg.Port)
		}
		if httpCfg.MaxBodySize <= 0 {
			add("server.http.max_body_size must be positive")
		}
		validateServerTLS("server.http.tls", httpCfg.TLS, add)
	}
	if ws.Enabled && httpCfg.Enabled && ws.Port == httpCfg.Port && ws.Host == httpCfg.Host {
		add("server.websocket and server.http cannot share %s:%d", ws.Host, ws.Port)
	}

	if err := validURL(c.Geo.BaseURL, "http", "https"); err != nil {
		add("geo.base_url: %v", err)
	}
	if c.Geo.Timeout <= 0 {
		add("geo.timeout must be positive")
	}
	if c.Geo.RateLimit < 0 || c.Geo.Burst < 0 {
		add("geo.rate_limit and geo.burst must not be negative")
	}

	if err := validURL(c.LLM.BaseURL, "http", "https"); err != nil {
		add("llm.base_url: %v", err)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature %.2f outside [0, 2]", c.LLM.Temperature)
	}
	if c.LLM.Timeout <= 0 {
		add("llm.timeout must be positive")
	}

	if c.Events.Enabled() {
		if err := validURL(c.Events.NATSURL, "nats", "tls", "ws", "wss"); err != nil {
			add("events.nats_url: %v", err)
		}
		if c.Events.SubjectPrefix == "" || strings.ContainsAny(c.Events.SubjectPrefix, " *>") {
			add("events.subject_prefix %q is not a valid subject prefix", c.Events.SubjectPrefix)
		}
		if tc := c.Events.TLS; tc.Enabled && (tc.CertFile == "") != (tc.KeyFile == "") {
			add("events.tls.cert_file and key_file must be set together")
		}
	}

	if c.Cache.Enabled && c.Cache.GeocodeTTL <= 0 {
		add("cache.geocode_ttl must be positive when the cache is enabled")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		add("log.format %q is not one of json, text", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"Config", "Validate", "validate configuration")
}

// Warnings lists settings that are valid but leave a feature degraded.
func (c *Config) Warnings() []string {
	var out []string
	if c.Geo.APIKey == "" {
		out = append(out, "geo.api_key is empty; upstream geospatial calls will be rejected")
	}
	if c.LLM.APIKey == "" {
		out = append(out, "llm.api_key is empty; enrichment is disabled")
	}
	if c.Events.Enabled() && c.Events.TLS.Enabled && c.Events.TLS.InsecureSkipVerify {
		out = append(out, "events.tls.insecure_skip_verify is set; the NATS server certificate is not verified")
	}
	return out
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	masked := *c
	masked.Geo.APIKey = mask(c.Geo.APIKey)
	masked.LLM.APIKey = mask(c.LLM.APIKey)
	masked.Events.Password = mask(c.Events.Password)
	masked.Events.Token = mask(c.Events.Token)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func validateServerTLS(prefix string, tc tlsutil.ServerConfig, add func(string, ...any)) {
	if !tc.Enabled {
		return
	}
	if tc.CertFile == "" || tc.KeyFile == "" {
		add("%s.cert_file and key_file are required when tls is enabled", prefix)
	}
	if tc.MinVersion != "" && tc.MinVersion != "1.2" && tc.MinVersion != "1.3" {
		add("%s.min_version %q is not one of 1.2, 1.3", prefix, tc.MinVersion)
	}
	if (tc.RequireClientCert || len(tc.AllowedClientCNs) > 0) && len(tc.ClientCAFiles) == 0 {
		add("%s.client_ca_files is required to verify client certificates", prefix)
	}
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

func validURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %v", u.Scheme, schemes)
}
