// Package config loads anysense.yaml.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches $${...} escapes, ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$(\$)?\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment variables in a config file.
//
//   - ${VAR} is the variable's value, or empty when unset.
//   - ${VAR:-default} falls back to default when VAR is unset or empty.
//   - $${VAR} is kept literally as ${VAR}.
func ExpandEnv(input string) string {
	matches := envRef.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		last = m[1]

		if m[2] >= 0 {
			b.WriteString(input[m[0]+1 : m[1]])
			continue
		}
		name := input[m[4]:m[5]]
		if v := os.Getenv(name); v != "" {
			b.WriteString(v)
		} else if m[6] >= 0 {
			b.WriteString(input[m[6]:m[7]])
		}
	}
	b.WriteString(input[last:])
	return b.String()
}
