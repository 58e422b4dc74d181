package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelMuxAllocateStartsAtOne(t *testing.T) {
	m := newChannelMux()
	ch, err := m.allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), ch.ID())
}

func TestChannelMuxAllocateSkipsTakenIDs(t *testing.T) {
	m := newChannelMux()
	m.setChannelMax(2)
	first, err := m.allocate(nil)
	require.NoError(t, err)
	second, err := m.allocate(nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	m.release(first.id)
	third, err := m.allocate(nil)
	require.NoError(t, err)
	assert.Equal(t, first.id, third.id, "released id should be reused on wraparound, not skipped forever")
}

func TestChannelMuxAllocateExhausted(t *testing.T) {
	m := newChannelMux()
	m.setChannelMax(2)
	_, err := m.allocate(nil)
	require.NoError(t, err)
	_, err = m.allocate(nil)
	require.NoError(t, err)

	_, err = m.allocate(nil)
	require.Error(t, err)
	var amqpErr *Error
	require.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, CodeNoChannelsAvailable, amqpErr.Code)
}

func TestChannelDispatchContentAssembly(t *testing.T) {
	m := newChannelMux()
	ch, err := m.allocate(nil)
	require.NoError(t, err)

	var delivered Delivery
	ch.consumers["ctag-1"] = func(d Delivery) { delivered = d }

	ch.dispatchMethod(classMethod{classBasic, 60}, map[string]any{
		"consumer-tag": "ctag-1", "delivery-tag": uint64(1), "redelivered": false,
		"exchange": "logs", "routing-key": "info",
	})
	ch.dispatchContentHeader(contentHeaderPayload{
		ClassID: classBasic, BodySize: 5, Properties: BasicProperties{ContentType: "text/plain"},
	})
	ch.dispatchContentBody([]byte("hel"))
	ch.dispatchContentBody([]byte("lo"))

	assert.Equal(t, "ctag-1", delivered.ConsumerTag)
	assert.Equal(t, "logs", delivered.Exchange)
	assert.Equal(t, []byte("hello"), delivered.Body)
	assert.Nil(t, ch.assembling, "assembly state should be cleared once the body is complete")
}

func TestChannelFailWakesPendingCall(t *testing.T) {
	m := newChannelMux()
	ch, err := m.allocate(nil)
	require.NoError(t, err)

	done := make(chan pendingResult, 1)
	ch.pending = &pendingCall{expect: "Declare-Ok", done: done}

	ch.fail(errServerClose(320, "CONNECTION_FORCED"))

	select {
	case res := <-done:
		require.Error(t, res.err)
	default:
		t.Fatal("expected fail() to wake the pending call")
	}
	assert.True(t, ch.closed)
}
