package llm

import "os"

// ContextSize returns an approximate context window (in tokens) for the
// given model name, used only for token budgeting of the prompt's memory
// block and the conversation trim (never for provider feature gating).
//
// It consults an environment-variable override for custom/self-hosted
// deployments first, then a small built-in table of Claude model families. The
// bool indicates whether the value came from a known mapping or explicit
// override (true) versus a conservative default fallback (false).
func ContextSize(model string) (tokens int, known bool) {
	if model == "" {
		return 0, false
	}

	if v, ok := lookupContextOverride(model); ok && v > 0 {
		return v, true
	}

	if size, ok := knownContextWindows[model]; ok {
		return size, true
	}
	for prefix, size := range knownContextWindows {
		if hasModelPrefix(model, prefix) {
			return size, true
		}
	}

	if v, ok := lookupContextOverride("*"); ok && v > 0 {
		return v, true
	}

	return 32_000, false
}

// knownContextWindows holds approximate context sizes for the Claude model
// families this core is configured against.
var knownContextWindows = map[string]int{
	"claude-sonnet-4-5": 200_000,
	"claude-haiku-4-5":  200_000,
	"claude-opus-4-5":   200_000,

	"claude-sonnet-4-5-20250929": 200_000,
	"claude-haiku-4-5-20251001":  200_000,
	"claude-opus-4-5-20251101":   200_000,
}

// lookupContextOverride checks for environment overrides.
//
// Precedence:
//  1. MODEL_<SANITIZED_NAME>_CONTEXT_TOKENS
//  2. MEMORY_AUTO_CONTEXT_WINDOW_TOKENS (global catch-all)
//
// When model == "*", only the global override is consulted.
func lookupContextOverride(model string) (int, bool) {
	if model == "*" {
		if v := os.Getenv("MEMORY_AUTO_CONTEXT_WINDOW_TOKENS"); v != "" {
			if n, ok := parseIntEnv(v); ok {
				return n, true
			}
		}
		return 0, false
	}

	key := "MODEL_" + sanitizeModelForEnv(model) + "_CONTEXT_TOKENS"
	if v := os.Getenv(key); v != "" {
		if n, ok := parseIntEnv(v); ok {
			return n, true
		}
	}

	if v := os.Getenv("MEMORY_AUTO_CONTEXT_WINDOW_TOKENS"); v != "" {
		if n, ok := parseIntEnv(v); ok {
			return n, true
		}
	}

	return 0, false
}

// sanitizeModelForEnv converts a model name into an env-var-friendly token.
func sanitizeModelForEnv(model string) string {
	out := make([]rune, 0, len(model))
	for _, r := range model {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// hasModelPrefix treats prefix matches as sufficient to select a context
// size, so e.g. a dated snapshot id still matches its base family.
func hasModelPrefix(model, prefix string) bool {
	if len(model) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if model[i] != prefix[i] {
			return false
		}
	}
	return true
}

// parseIntEnv parses a non-negative int from an environment variable string.
func parseIntEnv(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n := 0
	found := false
	for _, r := range v {
		if r < '0' || r > '9' {
			continue
		}
		found = true
		n = n*10 + int(r-'0')
	}
	if !found {
		return 0, false
	}
	return n, true
}
