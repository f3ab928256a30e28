package openrouter

import (
	"fmt"
	"strings"
)

// Environment sources of the credential pool, in precedence order.
const (
	EnvAPIKeys    = "OPENROUTER_API_KEYS"
	EnvIndexedKey = "OPENROUTER_API_KEY_%d"
	EnvLegacyDeep = "deepseek_api_key"
	EnvLegacyGrok = "grok_api_key"
)

// CollectAPIKeys builds the deduplicated credential pool: the comma separated
// list, then OPENROUTER_API_KEY_1..N up to the first gap, then the legacy names,
// then keys from the config file. GEMINI_API_KEY is never part of the pool.
func CollectAPIKeys(lookup func(string) string, configured []string) []string {
	var keys []string

	if csv := lookup(EnvAPIKeys); csv != "" {
		for _, k := range strings.Split(csv, ",") {
			keys = append(keys, strings.TrimSpace(k))
		}
	}

	for i := 1; ; i++ {
		val := lookup(fmt.Sprintf(EnvIndexedKey, i))
		if val == "" {
			break
		}
		keys = append(keys, strings.TrimSpace(val))
	}

	for _, legacy := range []string{EnvLegacyDeep, EnvLegacyGrok} {
		if val := lookup(legacy); val != "" {
			keys = append(keys, strings.TrimSpace(val))
		}
	}

	for _, k := range configured {
		keys = append(keys, strings.TrimSpace(k))
	}

	seen := make(map[string]bool, len(keys))
	unique := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, k)
	}
	return unique
}
