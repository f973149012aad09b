// Package config handles YAML config file loading for gantry.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${NAME} and ${NAME:-default} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${NAME} and ${NAME:-default} references with
// environment variable values. An unset or empty variable falls back
// to its default when one is given, otherwise to the empty string;
// required values fail later at validation (adapter URL checks).
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, fallback := m[1], m[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
