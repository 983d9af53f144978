// Package config loads the YAML file accepted by unchunk run --config.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}. Bare $NAME is left alone
// so literal dollars in header values survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
// An unset or empty variable takes its fallback, or expands to nothing.
// Missing required values surface later in Validate.
func ExpandEnv(doc string) string {
	idx := envRef.FindAllStringSubmatchIndex(doc, -1)
	if idx == nil {
		return doc
	}

	var b strings.Builder
	b.Grow(len(doc))
	last := 0
	for _, m := range idx {
		b.WriteString(doc[last:m[0]])
		last = m[1]

		if v := os.Getenv(doc[m[2]:m[3]]); v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(doc[m[4]:m[5]])
		}
	}
	b.WriteString(doc[last:])
	return b.String()
}
