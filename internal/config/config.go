// Package config assembles process configuration from environment variables
// (with optional .env support), following the teacher's internal/config
// loader style: a typed Config struct filled by explicit os.Getenv reads
// with documented defaults, no silent magic.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AnthropicConfig configures the Anthropic LM provider adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	// FastModel backs interactive dialogue turns; StrongModel backs long
	// synthesis (summarisation).
	FastModel   string
	StrongModel string
}

// DatabaseConfig configures the Postgres-backed memory store.
type DatabaseConfig struct {
	DSN string
}

// GeocodeConfig configures the getLocation tool's backend.
type GeocodeConfig struct {
	URL    string
	APIKey string
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogPath           string
	LogLevel          string
	LogPayloads       bool
	LogTruncateBytes  int
	OTLPEndpoint      string
	ServiceName       string
}

// Config is the fully resolved process configuration.
type Config struct {
	HTTPAddr string

	Anthropic     AnthropicConfig
	Database      DatabaseConfig
	Geocode       GeocodeConfig
	Observability ObservabilityConfig

	TargetLanguage string

	MaxToolIterations  int
	MaxToolParallelism int
	HistoryLimit       int
	WindowThreshold    int
	EpisodicWindowSize int // K, the retained tail after summarisation
	TurnTimeoutSeconds int
	ToolTimeoutSeconds int
	LMTimeoutSeconds   int

	// DisabledTools holds the tool names parsed from DISABLED_TOOLS. No
	// component reads it: every tool is registered regardless of this set.
	DisabledTools map[string]bool
}

// Load reads configuration from the environment, applying .env overrides the
// way the teacher's loader does (godotenv.Overload loads a repo-local .env
// and its values replace variables already set in the process environment).
func Load() Config {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: firstNonEmpty(getenv("HTTP_ADDR"), ":8080"),
		Anthropic: AnthropicConfig{
			APIKey:      getenv("LM_API_KEY"),
			BaseURL:     getenv("ANTHROPIC_BASE_URL"),
			FastModel:   firstNonEmpty(getenv("MODEL_FAST_NAME"), "claude-haiku-4-5"),
			StrongModel: firstNonEmpty(getenv("MODEL_STRONG_NAME"), "claude-sonnet-4-5"),
		},
		Database: DatabaseConfig{
			DSN: firstNonEmpty(getenv("DATABASE_URL"), getenv("POSTGRES_DSN")),
		},
		Geocode: GeocodeConfig{
			URL:    getenv("GEOCODE_API_URL"),
			APIKey: getenv("GEOCODE_API_KEY"),
		},
		Observability: ObservabilityConfig{
			LogPath:          firstNonEmpty(getenv("LOG_PATH"), "aetheria.log"),
			LogLevel:         firstNonEmpty(getenv("LOG_LEVEL"), "info"),
			LogPayloads:      parseBool(getenv("LOG_PAYLOADS"), false),
			LogTruncateBytes: parseIntDefault(getenv("LOG_TRUNCATE_BYTES"), 4096),
			OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:      firstNonEmpty(getenv("OTEL_SERVICE_NAME"), "aetheria"),
		},
		TargetLanguage:     firstNonEmpty(getenv("TARGET_LANGUAGE"), "zh-Hant"),
		MaxToolIterations:  parseIntDefault(getenv("MAX_TOOL_ITERATIONS"), 5),
		MaxToolParallelism: parseIntDefault(getenv("MAX_TOOL_PARALLELISM"), 1),
		HistoryLimit:       parseIntDefault(getenv("HISTORY_LIMIT"), 12),
		WindowThreshold:    parseIntDefault(getenv("WINDOW_THRESHOLD"), 30),
		EpisodicWindowSize: parseIntDefault(getenv("EPISODIC_WINDOW_SIZE"), 20),
		TurnTimeoutSeconds: parseIntDefault(getenv("TURN_TIMEOUT_SECONDS"), 180),
		ToolTimeoutSeconds: parseIntDefault(getenv("TOOL_TIMEOUT_SECONDS"), 15),
		LMTimeoutSeconds:   parseIntDefault(getenv("LM_TIMEOUT_SECONDS"), 60),
		DisabledTools:      parseDisabledTools(getenv("DISABLED_TOOLS")),
	}
	return cfg
}

func getenv(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func parseDisabledTools(v string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range strings.Split(v, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = true
		}
	}
	return out
}
