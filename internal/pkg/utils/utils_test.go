package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		50000:    "50,000",
		-1234567: "-1,234,567",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatNumber(in))
	}
}

func TestGenerateUsername(t *testing.T) {
	name := GenerateUsername("shop!", "12345")
	assert.True(t, strings.HasPrefix(name, "shop_12345_"), name)
	assert.Len(t, name, len("shop_12345_")+4)

	assert.True(t, strings.HasPrefix(GenerateUsername("", ""), "user_"))
}

func TestGenerateOrderID(t *testing.T) {
	a, b := GenerateOrderID(), GenerateOrderID()
	assert.True(t, strings.HasPrefix(a, "ORD-"))
	assert.NotEqual(t, a, b)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "abc", Excerpt("  abc ", 10))
	assert.Equal(t, "ab...", Excerpt("abcdef", 2))
}
