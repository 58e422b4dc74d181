package amqp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPipeConnection wires a Connection's reader/parser/mux onto one end of
// a net.Pipe, bypassing Dial's real net.Dialer, so handshake can be driven
// against a hand-written fake broker goroutine on the other end.
func newPipeConnection(netConn net.Conn) *Connection {
	c := &Connection{
		opts: ConnectionOptions{
			Host:        "broker",
			Port:        "5672",
			Vhost:       "/",
			SASL:        AMQPPlainAuth{Username: "guest", Password: "guest"},
			DialTimeout: time.Second,
			Heartbeat:   60 * time.Second,
			ChannelMax:  defaultChannelMax,
			FrameMax:    131072,
			Locale:      "en_US",
		},
		log:     testLogger(),
		writeMu: make(chan struct{}, 1),
		mux:     newChannelMux(),
		state:   stateDisconnected,
	}
	c.writeMu <- struct{}{}
	c.netConn = netConn
	c.reader = bufio.NewReaderSize(netConn, 32*1024)
	c.parser = NewParser()
	c.wireParser()
	return c
}

// readFrameFrom reads one raw frame off r, the server side's mirror of
// Connection.readOneFrame.
func readFrameFrom(r *bufio.Reader) (rawFrame, error) {
	head := make([]byte, headerHeadLength)
	if _, err := readFull(r, head); err != nil {
		return rawFrame{}, err
	}
	size := beUint32(head[3:7])
	body := make([]byte, size+headerEndLength)
	if _, err := readFull(r, body); err != nil {
		return rawFrame{}, err
	}
	if body[len(body)-1] != frameEnd {
		return rawFrame{}, errFrame("missing frame-end octet")
	}
	return rawFrame{Type: head[0], Channel: beUint16(head[1:3]), Payload: body[:size]}, nil
}

// runHappyPathServer plays the broker side of spec.md §8 scenario 1: Start
// advertising AMQPLAIN, assert the client answers with AMQPLAIN/guest-guest,
// Tune down to a 2047 channel-max, then Open/Open-Ok.
func runHappyPathServer(conn net.Conn) error {
	r := bufio.NewReaderSize(conn, 4096)

	header := make([]byte, len(protocolHeader))
	if _, err := readFull(r, header); err != nil {
		return err
	}
	for i, b := range protocolHeader {
		if header[i] != b {
			return fmt.Errorf("unexpected protocol header: %x", header)
		}
	}

	startFrame, err := encodeMethodFrame(0, classMethod{classConnection, 10}, map[string]any{
		"version-major":     uint8(0),
		"version-minor":     uint8(9),
		"server-properties": Table{"product": "rabbitmq"},
		"mechanisms":        "PLAIN AMQPLAIN",
		"locales":           "en_US",
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(startFrame); err != nil {
		return err
	}

	raw, err := readFrameFrom(r)
	if err != nil {
		return err
	}
	cm, values, err := decodeMethodFrame(raw.Payload)
	if err != nil {
		return err
	}
	if cm != (classMethod{classConnection, 11}) {
		return fmt.Errorf("expected Start-Ok, got %+v", cm)
	}
	if mech, _ := values["mechanism"].(string); mech != "AMQPLAIN" {
		return fmt.Errorf("expected AMQPLAIN mechanism, got %q", mech)
	}
	response, _ := values["response"].(string)
	br := &byteReader{buf: []byte(response)}
	key, err := br.readShortStr()
	if err != nil || key != "LOGIN" {
		return fmt.Errorf("expected LOGIN key, got %q (err=%v)", key, err)
	}
	login, err := br.readFieldValue()
	if err != nil || login != "guest" {
		return fmt.Errorf("expected LOGIN=guest, got %v (err=%v)", login, err)
	}
	key, err = br.readShortStr()
	if err != nil || key != "PASSWORD" {
		return fmt.Errorf("expected PASSWORD key, got %q (err=%v)", key, err)
	}
	password, err := br.readFieldValue()
	if err != nil || password != "guest" {
		return fmt.Errorf("expected PASSWORD=guest, got %v (err=%v)", password, err)
	}

	tuneFrame, err := encodeMethodFrame(0, classMethod{classConnection, 30}, map[string]any{
		"channel-max": uint16(2047), "frame-max": uint32(131072), "heartbeat": uint16(60),
	})
	if err != nil {
		return err
	}
	if _, err := conn.Write(tuneFrame); err != nil {
		return err
	}

	raw, err = readFrameFrom(r)
	if err != nil {
		return err
	}
	cm, _, err = decodeMethodFrame(raw.Payload)
	if err != nil {
		return err
	}
	if cm != (classMethod{classConnection, 31}) {
		return fmt.Errorf("expected Tune-Ok, got %+v", cm)
	}

	raw, err = readFrameFrom(r)
	if err != nil {
		return err
	}
	cm, values, err = decodeMethodFrame(raw.Payload)
	if err != nil {
		return err
	}
	if cm != (classMethod{classConnection, 40}) {
		return fmt.Errorf("expected Open, got %+v", cm)
	}
	if vhost, _ := values["virtual-host"].(string); vhost != "/" {
		return fmt.Errorf("expected virtual-host=/, got %q", vhost)
	}

	openOkFrame, err := encodeMethodFrame(0, classMethod{classConnection, 41}, map[string]any{"reserved-1": ""})
	if err != nil {
		return err
	}
	if _, err := conn.Write(openOkFrame); err != nil {
		return err
	}
	return nil
}

func TestHandshakeHappyPath(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := newPipeConnection(clientConn)

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- runHappyPathServer(serverConn) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, stateReady, c.state)
	assert.Equal(t, uint16(2047), c.channelMax)
	assert.Equal(t, uint32(131072), c.frameMax)
	assert.Equal(t, 60*time.Second, c.heartbeat)
	require.NoError(t, <-serverErrCh)
}

func TestHandshakeRejectsBadServerVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := newPipeConnection(clientConn)

	go func() {
		r := bufio.NewReaderSize(serverConn, 4096)
		header := make([]byte, len(protocolHeader))
		_, _ = readFull(r, header)
		frame, encErr := encodeMethodFrame(0, classMethod{classConnection, 10}, map[string]any{
			"version-major":     uint8(0),
			"version-minor":     uint8(8),
			"server-properties": Table{},
			"mechanisms":        "PLAIN",
			"locales":           "en_US",
		})
		if encErr == nil {
			_, _ = serverConn.Write(frame)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.handshake(ctx)
	require.Error(t, err)
	var amqpErr *Error
	require.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, CodeBadServerVersion, amqpErr.Code)
	assert.True(t, amqpErr.Permanent())
}
