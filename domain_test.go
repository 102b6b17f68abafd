package domaincache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare domain", "example.com", "example.com"},
		{"https scheme", "https://example.com", "example.com"},
		{"http scheme", "http://example.com", "example.com"},
		{"www prefix", "www.example.com", "example.com"},
		{"scheme and www", "https://www.example.com", "example.com"},
		{"trailing path", "https://example.com/pricing?q=1", "example.com"},
		{"uppercase", "EXAMPLE.COM", "example.com"},
		{"surrounding whitespace", "  example.com  ", "example.com"},
		{"subdomain preserved", "https://shop.example.com/x", "shop.example.com"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDomain(tt.in))
		})
	}
}

func TestUniqueDomains(t *testing.T) {
	got := UniqueDomains([]string{
		"https://www.b.com",
		"b.com",
		"A.com",
		"",
		"a.com/path",
	})
	assert.Equal(t, []string{"a.com", "b.com"}, got)
}
