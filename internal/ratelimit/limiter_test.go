package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_EnforcesLimitPerKey(t *testing.T) {
	l := New(time.Hour)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("otp-ip", "203.0.113.9", 3)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, retryAfter := l.Allow("otp-ip", "203.0.113.9", 3)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))

	// Other identifiers and namespaces count independently.
	ok, _ = l.Allow("otp-ip", "198.51.100.7", 3)
	assert.True(t, ok)
	ok, _ = l.Allow("otp-email", "203.0.113.9", 3)
	assert.True(t, ok)
}

func TestAllow_WindowResets(t *testing.T) {
	l := New(25 * time.Millisecond)

	ok, _ := l.Allow("otp-email", "pat@client.io", 1)
	assert.True(t, ok)
	ok, _ = l.Allow("otp-email", "pat@client.io", 1)
	assert.False(t, ok)

	time.Sleep(40 * time.Millisecond)
	ok, _ = l.Allow("otp-email", "pat@client.io", 1)
	assert.True(t, ok)
}

func TestAllow_ZeroLimitDisablesThrottle(t *testing.T) {
	l := New(time.Hour)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("otp-ip", "x", 0)
		assert.True(t, ok)
	}
}
