package env

import (
	"os"
	"strings"
)

// Lookup returns the first non-blank value among keys, or fallback. Earlier
// keys win, so prefixed names can shadow legacy ones.
func Lookup(fallback string, keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}
