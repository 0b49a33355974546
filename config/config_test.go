package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/pkg/tlsutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func newTestLoader() *Loader {
	l := NewLoader()
	l.lookupEnv = noEnv
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6789, cfg.Server.WebSocket.Port)
	assert.Equal(t, 5000, cfg.Server.HTTP.Port)
	assert.Equal(t, 100, cfg.Server.WebSocket.MaxConnections)
	assert.Equal(t, int64(10485760), cfg.Server.WebSocket.MaxMessageSize)
	assert.Equal(t, 5*time.Minute, cfg.Server.WebSocket.IdleTimeout.Std())
	assert.Equal(t, time.Minute, cfg.Server.WebSocket.SweepInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.Geo.Timeout.Std())
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout.Std())
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.False(t, cfg.Events.Enabled())
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`2.5`), &d))
	assert.Equal(t, 2500*time.Millisecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"5m0s"`, string(out))
}

func TestLoader_JSONCLayer(t *testing.T) {
	path := writeFile(t, "geogate.jsonc", `{
		// comments and trailing commas are fine
		"server": {
			"websocket": {"port": 7000, "idle_timeout": "2m",},
		},
		"geo": {"api_key": "geo-key"},
	}`)

	cfg, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.WebSocket.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.WebSocket.IdleTimeout.Std())
	assert.Equal(t, "geo-key", cfg.Geo.APIKey)
	// untouched siblings keep defaults
	assert.Equal(t, 100, cfg.Server.WebSocket.MaxConnections)
	assert.Equal(t, 5000, cfg.Server.HTTP.Port)
}

func TestLoader_YAMLLayer(t *testing.T) {
	path := writeFile(t, "geogate.yaml", `
server:
  http:
    port: 8080
    cors_origins: ["https://maps.example.com"]
llm:
  model: deepseek-reasoner
  temperature: 0.7
events:
  nats_url: nats://localhost:4222
`)

	cfg, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
	assert.Equal(t, []string{"https://maps.example.com"}, cfg.Server.HTTP.CORSOrigins)
	assert.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 0.0001)
	assert.True(t, cfg.Events.Enabled())
	assert.Equal(t, "geogate", cfg.Events.SubjectPrefix)
}

func TestLoader_LayersMergeInOrder(t *testing.T) {
	base := writeFile(t, "base.json", `{"server": {"websocket": {"port": 7001, "max_connections": 5}}}`)
	over := writeFile(t, "override.yml", "server:\n  websocket:\n    port: 7002\n")

	l := newTestLoader()
	l.AddLayer(base)
	l.AddLayer(over)
	cfg, err := l.Load()
	require.NoError(t, err)

	want := Default()
	want.Server.WebSocket.Port = 7002
	want.Server.WebSocket.MaxConnections = 5
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_DisableTransport(t *testing.T) {
	path := writeFile(t, "c.json", `{"server": {"websocket": {"enabled": false}}}`)

	cfg, err := newTestLoader().LoadFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Server.WebSocket.Enabled)
	assert.True(t, cfg.Server.HTTP.Enabled)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"GEOGATE_WS_PORT":         "9001",
		"GEOGATE_WS_IDLE_TIMEOUT": "30s",
		"GEOGATE_LLM_API_KEY":     "sk-test",
		"GEOGATE_NATS_URL":        "nats://events:4222",
		"OTHER_HTTP_PORT":         "1",
	}
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.WebSocket.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.WebSocket.IdleTimeout.Std())
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "nats://events:4222", cfg.Events.NATSURL)
	assert.Equal(t, 5000, cfg.Server.HTTP.Port)
}

func TestLoader_BadEnvValue(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		if k == "GEOGATE_HTTP_PORT" {
			return "eighty", true
		}
		return "", false
	}

	_, err := l.Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "GEOGATE_HTTP_PORT")
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"unsupported extension", func(t *testing.T) string { return writeFile(t, "c.toml", "a = 1") }},
		{"malformed json", func(t *testing.T) string { return writeFile(t, "c.json", `{"server": `) }},
		{"malformed yaml", func(t *testing.T) string { return writeFile(t, "c.yaml", "server: [unclosed") }},
		{"too deep", func(t *testing.T) string {
			return writeFile(t, "c.json", strings.Repeat("[", 40)+strings.Repeat("]", 40))
		}},
		{"directory", func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "d.json")
			require.NoError(t, os.Mkdir(dir, 0o700))
			return dir
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().LoadFile(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		problem string
	}{
		{"bad ws port", func(c *Config) { c.Server.WebSocket.Port = 70000 }, "server.websocket.port"},
		{"zero max connections", func(c *Config) { c.Server.WebSocket.MaxConnections = 0 }, "max_connections"},
		{"zero idle timeout", func(c *Config) { c.Server.WebSocket.IdleTimeout = 0 }, "idle_timeout"},
		{"both disabled", func(c *Config) {
			c.Server.WebSocket.Enabled = false
			c.Server.HTTP.Enabled = false
		}, "at least one"},
		{"shared port", func(c *Config) { c.Server.HTTP.Port = c.Server.WebSocket.Port }, "cannot share"},
		{"geo url scheme", func(c *Config) { c.Geo.BaseURL = "ftp://x" }, "geo.base_url"},
		{"llm temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"nats scheme", func(c *Config) { c.Events.NATSURL = "http://x:4222" }, "events.nats_url"},
		{"subject prefix wildcard", func(c *Config) {
			c.Events.NATSURL = "nats://x:4222"
			c.Events.SubjectPrefix = "geo.>"
		}, "subject_prefix"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"ws tls without key", func(c *Config) {
			c.Server.WebSocket.TLS.Enabled = true
			c.Server.WebSocket.TLS.CertFile = "cert.pem"
		}, "server.websocket.tls.cert_file"},
		{"http tls version", func(c *Config) {
			c.Server.HTTP.TLS = tlsutil.ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.1"}
		}, "server.http.tls.min_version"},
		{"client cn without ca", func(c *Config) {
			c.Server.HTTP.TLS = tlsutil.ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", AllowedClientCNs: []string{"edge"}}
		}, "client_ca_files"},
		{"events tls half pair", func(c *Config) {
			c.Events.NATSURL = "tls://x:4222"
			c.Events.TLS = tlsutil.ClientConfig{Enabled: true, CertFile: "c"}
		}, "events.tls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.WebSocket.Port = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.websocket.port")
	assert.Contains(t, err.Error(), "log.format")
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Geo.APIKey = "geo-secret"
	cfg.LLM.APIKey = "llm-secret"

	s := cfg.String()
	assert.NotContains(t, s, "geo-secret")
	assert.NotContains(t, s, "llm-secret")
	assert.Contains(t, s, "****")
	assert.Equal(t, "geo-secret", cfg.Geo.APIKey, "original untouched")
}

func TestConfig_Warnings(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.Warnings(), 2)

	cfg.Geo.APIKey = "k"
	cfg.LLM.APIKey = "k"
	assert.Empty(t, cfg.Warnings())

	cfg.Events.NATSURL = "tls://x:4222"
	cfg.Events.TLS = tlsutil.ClientConfig{Enabled: true, InsecureSkipVerify: true}
	assert.Len(t, cfg.Warnings(), 1)
}
