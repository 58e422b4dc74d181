package amqp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBodyBytesVerbatim(t *testing.T) {
	var props BasicProperties
	body, err := encodeBody([]byte("raw bytes"), &props)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw bytes"), body)
	assert.Empty(t, props.ContentType, "no content-type injection for a []byte body")
}

func TestEncodeBodyStringAsUTF8(t *testing.T) {
	var props BasicProperties
	body, err := encodeBody("plain text", &props)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), body)
	assert.Empty(t, props.ContentType, "no content-type injection for a string body")
}

func TestEncodeBodyStructAsJSON(t *testing.T) {
	var props BasicProperties
	type msg struct {
		Name string `json:"name"`
	}
	body, err := encodeBody(msg{Name: "widget"}, &props)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"widget"}`, string(body))
	assert.Equal(t, "application/json", props.ContentType)
}

func TestEncodeBodyRespectsExplicitContentType(t *testing.T) {
	props := BasicProperties{ContentType: "application/custom"}
	body, err := encodeBody([]byte("x"), &props)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), body)
	assert.Equal(t, "application/custom", props.ContentType)
}
