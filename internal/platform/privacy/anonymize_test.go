package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ipv4 host", "192.168.1.47", "192.168.1.0"},
		{"ipv4 network address", "10.0.0.0", "10.0.0.0"},
		{"ipv4 broadcast octet", "172.16.50.255", "172.16.50.0"},
		{"ipv4 mapped ipv6", "::ffff:203.0.113.9", "203.0.113.0"},
		{"ipv6 host", "2001:db8:85a3::8a2e:370:7334", "2001:db8:85a3::"},
		{"ipv6 loopback", "::1", "::"},
		{"empty", "", "unknown"},
		{"unknown marker", "unknown", "unknown"},
		{"garbage", "not-an-ip", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AnonymizeIP(tt.input))
		})
	}
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.0.2.0", ClientIP("192.0.2.1:1234"))
	assert.Equal(t, "2001:db8::", ClientIP("[2001:db8::1]:443"))
	assert.Equal(t, "192.0.2.0", ClientIP("192.0.2.77"))
}

func TestAnonymizeIPSameNetworkCollapses(t *testing.T) {
	assert.Equal(t, AnonymizeIP("198.51.100.1"), AnonymizeIP("198.51.100.200"))
	assert.NotEqual(t, AnonymizeIP("198.51.100.1"), AnonymizeIP("198.51.101.1"))
}
