package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"sigs.k8s.io/yaml"

	"github.com/c360/geogate/errors"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "GEOGATE"

// Loader builds a Config from defaults, file layers and the environment.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer appends a configuration file. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles the final Validate call.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads a single file on top of the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, then each layer deep-merged in order, then
// environment overrides, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a layer into a generic map. JSON files may carry comments
// and trailing commas.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		data = jsonc.ToJSON(data)
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid config structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return raw, nil
}

// mergeFromMap overlays only the keys present in override.
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if len(override) == 0 {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseChild, ok := base[k].(map[string]any); ok {
			if overChild, ok := v.(map[string]any); ok {
				out[k] = deepMergeMaps(baseChild, overChild)
				continue
			}
		}
		out[k] = v
	}
	return out
}

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func stringEnv(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func intEnv(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func durationEnv(set func(*Config, Duration)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, Duration(d))
		return nil
	}
}

var envBindings = []envBinding{
	{"WS_PORT", intEnv(func(c *Config, v int) { c.Server.WebSocket.Port = v })},
	{"WS_MAX_CONNECTIONS", intEnv(func(c *Config, v int) { c.Server.WebSocket.MaxConnections = v })},
	{"WS_IDLE_TIMEOUT", durationEnv(func(c *Config, v Duration) { c.Server.WebSocket.IdleTimeout = v })},
	{"WS_SWEEP_INTERVAL", durationEnv(func(c *Config, v Duration) { c.Server.WebSocket.SweepInterval = v })},
	{"HTTP_PORT", intEnv(func(c *Config, v int) { c.Server.HTTP.Port = v })},
	{"GEO_BASE_URL", stringEnv(func(c *Config, v string) { c.Geo.BaseURL = v })},
	{"GEO_API_KEY", stringEnv(func(c *Config, v string) { c.Geo.APIKey = v })},
	{"LLM_BASE_URL", stringEnv(func(c *Config, v string) { c.LLM.BaseURL = v })},
	{"LLM_API_KEY", stringEnv(func(c *Config, v string) { c.LLM.APIKey = v })},
	{"LLM_MODEL", stringEnv(func(c *Config, v string) { c.LLM.Model = v })},
	{"NATS_URL", stringEnv(func(c *Config, v string) { c.Events.NATSURL = v })},
	{"NATS_TOKEN", stringEnv(func(c *Config, v string) { c.Events.Token = v })},
	{"LOG_LEVEL", stringEnv(func(c *Config, v string) { c.Log.Level = v })},
	{"LOG_FORMAT", stringEnv(func(c *Config, v string) { c.Log.Format = v })},
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, b := range envBindings {
		key := l.envPrefix + "_" + b.name
		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := validateEnvVar(key, value); err != nil {
			return err
		}
		if err := b.apply(cfg, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
