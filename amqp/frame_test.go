package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawFrameNeedsMoreData(t *testing.T) {
	// a Connection.Start-ish header claiming an 8-byte payload, but only
	// 3 bytes supplied after the head.
	buf := []byte{frameMethod, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00, 0x00, 0x00}
	frame, consumed, err := decodeRawFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, consumed)
	assert.Equal(t, rawFrame{}, frame)
}

func TestDecodeRawFrameMissingFrameEnd(t *testing.T) {
	buf := []byte{frameHeartbeat, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}
	_, _, err := decodeRawFrame(buf)
	assert.Error(t, err)
}

func TestEncodeDecodeRawFrameRoundTrip(t *testing.T) {
	payload := []byte("hello")
	encoded := encodeRawFrame(frameMethod, 7, payload)

	frame, consumed, err := decodeRawFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), consumed)
	assert.Equal(t, uint8(frameMethod), frame.Type)
	assert.Equal(t, uint16(7), frame.Channel)
	assert.Equal(t, payload, frame.Payload)
}

func TestEncodeDecodeMethodFrameRoundTrip(t *testing.T) {
	cm := classMethod{classConnection, 10} // Start
	values := map[string]any{
		"version-major":     uint8(0),
		"version-minor":     uint8(9),
		"server-properties": Table{"product": "rabbitmq"},
		"mechanisms":        "PLAIN AMQPLAIN",
		"locales":           "en_US",
	}
	encoded, err := encodeMethodFrame(0, cm, values)
	require.NoError(t, err)

	frame, consumed, err := decodeRawFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), consumed)

	gotCM, gotValues, err := decodeMethodFrame(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, cm, gotCM)
	assert.Equal(t, values["version-minor"], gotValues["version-minor"])
	assert.Equal(t, values["mechanisms"], gotValues["mechanisms"])
}

func TestEncodeFieldsPacksConsecutiveBits(t *testing.T) {
	// Exchange.Declare has five consecutive bit fields after its
	// strings: passive, durable, auto-delete, internal, no-wait.
	cm := classMethod{classExchange, 10}
	values := map[string]any{
		"reserved-1": uint16(0), "exchange": "logs", "type": "topic",
		"passive": false, "durable": true, "auto-delete": false,
		"internal": false, "no-wait": true, "arguments": Table(nil),
	}
	encoded, err := encodeMethodFrame(3, cm, values)
	require.NoError(t, err)

	frame, _, err := decodeRawFrame(encoded)
	require.NoError(t, err)

	gotCM, gotValues, err := decodeMethodFrame(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, cm, gotCM)
	assert.Equal(t, true, gotValues["durable"])
	assert.Equal(t, true, gotValues["no-wait"])
	assert.Equal(t, false, gotValues["passive"])
}

func TestContentHeaderRoundTrip(t *testing.T) {
	props := BasicProperties{
		ContentType:   "application/json",
		DeliveryMode:  2,
		CorrelationId: "abc-123",
		Headers:       Table{"trace-id": "xyz"},
	}
	encoded := encodeContentHeaderFrame(5, classBasic, 42, props)

	frame, _, err := decodeRawFrame(encoded)
	require.NoError(t, err)

	header, err := decodeContentHeaderFrame(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(classBasic), header.ClassID)
	assert.Equal(t, uint64(42), header.BodySize)
	assert.Equal(t, props.ContentType, header.Properties.ContentType)
	assert.Equal(t, props.DeliveryMode, header.Properties.DeliveryMode)
	assert.Equal(t, props.CorrelationId, header.Properties.CorrelationId)
	assert.Equal(t, props.Headers, header.Properties.Headers)
	// fields never set stay zero-valued, not garbage from flag
	// misalignment.
	assert.Equal(t, "", header.Properties.ReplyTo)
}

func TestChunkBodySplitsOnFrameMax(t *testing.T) {
	// frameMax=18 bounds each whole wire frame, so the payload ceiling is
	// 18-8=10; a 25-byte body splits 10/10/5.
	body := make([]byte, 25)
	for i := range body {
		body[i] = byte(i)
	}
	frames := chunkBody(1, body, 18)
	require.Len(t, frames, 3)

	var reassembled []byte
	for i, f := range frames {
		raw, _, err := decodeRawFrame(f)
		require.NoError(t, err)
		assert.Equal(t, uint8(frameBody), raw.Type)
		if i < 2 {
			assert.Len(t, raw.Payload, 10)
		} else {
			assert.Len(t, raw.Payload, 5)
		}
		reassembled = append(reassembled, raw.Payload...)
	}
	assert.Equal(t, body, reassembled)
}

func TestChunkBodyMatchesFrameMaxScenario(t *testing.T) {
	// spec.md §8 scenario 5: frameMax=131072 chunks a 300000-byte body
	// into 131064/131064/37872-byte payloads (131072-8=131064 per frame).
	body := make([]byte, 300000)
	for i := range body {
		body[i] = byte(i)
	}
	frames := chunkBody(9, body, 131072)
	require.Len(t, frames, 3)

	wantSizes := []int{131064, 131064, 37872}
	var reassembled []byte
	for i, f := range frames {
		raw, _, err := decodeRawFrame(f)
		require.NoError(t, err)
		assert.Equal(t, uint8(frameBody), raw.Type)
		assert.Equal(t, uint16(9), raw.Channel)
		assert.Len(t, raw.Payload, wantSizes[i])
		reassembled = append(reassembled, raw.Payload...)
	}
	assert.Equal(t, body, reassembled)
}

func TestChunkBodyEmptyBodyStillEmitsOneFrame(t *testing.T) {
	frames := chunkBody(1, nil, 10)
	require.Len(t, frames, 1)
	raw, _, err := decodeRawFrame(frames[0])
	require.NoError(t, err)
	assert.Empty(t, raw.Payload)
}
