package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffLinear(t *testing.T) {
	// "linear" stays unchanged at InitialBackoff across attempts; only
	// "exponential" grows.
	r := &reconnectSupervisor{opts: ReconnectOptions{Strategy: "linear", InitialBackoff: time.Second}}
	r.attempt = 1
	assert.Equal(t, time.Second, r.nextBackoff())
	r.attempt = 3
	assert.Equal(t, time.Second, r.nextBackoff())
}

func TestNextBackoffExponential(t *testing.T) {
	r := &reconnectSupervisor{opts: ReconnectOptions{Strategy: "exponential", InitialBackoff: time.Second}}
	r.attempt = 1
	assert.Equal(t, time.Second, r.nextBackoff())
	r.attempt = 4
	assert.Equal(t, 8*time.Second, r.nextBackoff())
}

func TestNextBackoffRespectsMax(t *testing.T) {
	r := &reconnectSupervisor{opts: ReconnectOptions{
		Strategy: "exponential", InitialBackoff: time.Second, MaxBackoff: 5 * time.Second,
	}}
	r.attempt = 10
	assert.Equal(t, 5*time.Second, r.nextBackoff())
}

func TestOnDisconnectSkipsPermanentErrors(t *testing.T) {
	conn := &Connection{log: testLogger()}
	r := newReconnectSupervisor(conn, ReconnectOptions{Enabled: true})
	conn.reconnect = r

	// a permanent error (bad server version) must not spawn a reconnect
	// goroutine; there is nothing to assert on directly here beyond "it
	// doesn't panic and doesn't block", since run() is fire-and-forget.
	r.onDisconnect(errBadServerVersion(0, 8))
}
