// Package config loads GeoGate configuration.
//
// Values are resolved in four steps:
//
//  1. Default() supplies every field.
//  2. File layers added with AddLayer are deep-merged in order. JSON files
//     (.json, .jsonc) may contain comments and trailing commas; YAML files
//     (.yaml, .yml) are converted to JSON first. Only keys present in a layer
//     override earlier values.
//  3. GEOGATE_* environment variables override individual fields, for
//     example GEOGATE_GEO_API_KEY, GEOGATE_LLM_API_KEY, GEOGATE_NATS_URL,
//     GEOGATE_WS_PORT and GEOGATE_HTTP_PORT.
//  4. Validate reports every range or format problem in one error.
//
// Durations are written as Go duration strings:
//
//	{
//	  "server": {
//	    "websocket": {"port": 6789, "idle_timeout": "5m", "sweep_interval": "60s"},
//	    "http": {"port": 5000}
//	  },
//	  "geo": {"api_key": "..."},
//	  "llm": {"api_key": "...", "model": "deepseek-chat"}
//	}
package config
