package amqp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPermanence(t *testing.T) {
	assert.True(t, errBadServerVersion(0, 8).Permanent())
	assert.False(t, errTransport(nil, "boom").Permanent())
	assert.True(t, errServerClose(403, "ACCESS_REFUSED").Permanent())
	assert.False(t, errServerClose(311, "CONTENT_TOO_LARGE").Permanent())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := errTransport(cause, "dial %s", "broker:5672")
	assert.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesReplyCode(t *testing.T) {
	err := errServerClose(530, "NOT_ALLOWED")
	assert.Contains(t, err.Error(), "530")
}
