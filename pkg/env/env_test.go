package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPrefersEarlierKeys(t *testing.T) {
	t.Setenv("STOREFRONT_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")
	assert.Equal(t, "console", Lookup("json", "STOREFRONT_LOG_FORMAT", "LOG_FORMAT"))

	t.Setenv("STOREFRONT_LOG_FORMAT", "  ")
	assert.Equal(t, "json", Lookup("text", "STOREFRONT_LOG_FORMAT", "LOG_FORMAT"))
	assert.Equal(t, "text", Lookup("text", "STOREFRONT_UNSET_KEY"))
}
