package amqp

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/packetd/amqpcore/internal/rescue"
	"github.com/packetd/amqpcore/internal/xlog"
)

func upgradeTLS(conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// state is the Connection's handshake/lifecycle state machine, generalized
// from other_examples' chenggangschool-amqp Connection (which tracks this
// only implicitly via which channel it's waiting to read) into the
// explicit states spec.md §5 names.
type state uint8

const (
	stateDisconnected state = iota
	stateTCPConnecting
	stateAwaitingStart
	stateAwaitingSecure
	stateAwaitingTune
	stateAwaitingOpenOk
	stateReady
	stateClosing
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateTCPConnecting:
		return "tcp-connecting"
	case stateAwaitingStart:
		return "awaiting-start"
	case stateAwaitingSecure:
		return "awaiting-secure"
	case stateAwaitingTune:
		return "awaiting-tune"
	case stateAwaitingOpenOk:
		return "awaiting-open-ok"
	case stateReady:
		return "ready"
	case stateClosing:
		return "closing"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connection drives one AMQP 0-9-1 TCP/TLS socket through handshake,
// steady-state channel multiplexing, heartbeats, and (optionally)
// reconnection. Its read loop runs on a single background goroutine;
// every Parser callback and channel dispatch runs on that same goroutine,
// so callers never observe two deliveries interleaved. OnReady listeners
// run on the goroutine that completed the handshake (the Dial caller or
// the reconnect goroutine), and a heartbeat timeout or failed heartbeat
// write delivers OnError/OnClose from the heartbeat goroutine.
type Connection struct {
	opts ConnectionOptions
	log  xlog.Logger

	netConn net.Conn
	reader  *bufio.Reader
	writeMu chan struct{} // 1-buffered mutex, grounded on chenggangschool-amqp's sync.Mutex write guard

	parser *Parser
	mux    *channelMux

	state state

	channelMax uint16
	frameMax   uint32
	heartbeat  time.Duration

	serverProperties Table
	fingerprint      uint64

	pending0 *pendingCall

	hb        *heartbeatSupervisor
	reconnect *reconnectSupervisor

	listeners eventListeners

	closeErr *Error
}

// Dial opens a TCP (or TLS, for amqps://) connection, performs the AMQP
// handshake, and returns a ready Connection. Grounded on
// chenggangschool-amqp's Dial/Open pair: net.DialTimeout followed by a
// protocol-header + Start/Start-Ok/Tune/Tune-Ok/Open/Open-Ok exchange.
func Dial(ctx context.Context, rawurl string, opt ...Option) (*Connection, error) {
	opts, err := newConnectionOptions(rawurl, opt...)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		opts:    opts,
		log:     xlog.New(xlog.Options{Stdout: true, Level: "info"}).With("component", "amqp"),
		writeMu: make(chan struct{}, 1),
		parser:  NewParser(),
		mux:     newChannelMux(),
		state:   stateDisconnected,
	}
	c.writeMu <- struct{}{}
	if opts.Reconnect.Enabled {
		c.reconnect = newReconnectSupervisor(c, opts.Reconnect)
	}
	if err := c.connectOnce(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connectOnce(ctx context.Context) error {
	c.state = stateTCPConnecting
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.opts.HostPort())
	if err != nil {
		return errTransport(err, "dial %s", c.opts.HostPort())
	}
	if c.opts.TLSConfig != nil {
		conn, err = upgradeTLS(conn, c.opts.TLSConfig)
		if err != nil {
			return errTransport(err, "tls handshake")
		}
	}
	c.netConn = conn
	c.reader = bufio.NewReaderSize(conn, 32*1024)
	c.parser = NewParser()
	c.wireParser()

	if err := c.handshake(ctx); err != nil {
		_ = c.netConn.Close()
		c.state = stateFailed
		return err
	}

	c.state = stateReady
	observeConnectionState(c.state)
	if c.opts.Heartbeat > 0 {
		c.hb = newHeartbeatSupervisor(c, c.opts.Heartbeat, c.opts.HeartbeatForceReconnect)
		c.hb.start()
	}
	go c.readLoop()
	for _, fn := range c.listeners.onReady {
		fn()
	}
	return nil
}

func (c *Connection) wireParser() {
	c.parser.OnMethod = c.onMethod
	c.parser.OnContentHeader = c.onContentHeader
	c.parser.OnContentBody = c.onContentBody
	c.parser.OnHeartbeat = c.onHeartbeat
}

// handshake drives the connection synchronously through
// Start/Start-Ok/(Secure/Secure-Ok)*/Tune/Tune-Ok/Open/Open-Ok before the
// background read loop takes over. It borrows the connection's own
// reader/parser for this bootstrap phase, since no other goroutine is
// running yet.
func (c *Connection) handshake(ctx context.Context) error {
	if _, err := c.netConn.Write(protocolHeader[:]); err != nil {
		return errTransport(err, "write protocol header")
	}
	c.state = stateAwaitingStart

	for c.state != stateReady && c.state != stateAwaitingOpenOk {
		frame, err := c.readOneFrame(ctx)
		if err != nil {
			return err
		}
		if frame.Type != frameMethod {
			continue
		}
		cm, values, err := decodeMethodFrame(frame.Payload)
		if err != nil {
			return err
		}
		if err := c.handleHandshakeMethod(cm, values); err != nil {
			return err
		}
		if c.state == stateAwaitingOpenOk {
			break
		}
	}

	// Wait for Open-Ok.
	for c.state == stateAwaitingOpenOk {
		frame, err := c.readOneFrame(ctx)
		if err != nil {
			return err
		}
		if frame.Type != frameMethod {
			continue
		}
		cm, values, err := decodeMethodFrame(frame.Payload)
		if err != nil {
			return err
		}
		spec := methodSpecs[cm]
		if cm.ClassID == classConnection && spec.name == "Open-Ok" {
			c.state = stateReady
			return nil
		}
		if cm.ClassID == classConnection && spec.name == "Close" {
			return c.remoteCloseDuringHandshake(values)
		}
	}
	return nil
}

// remoteCloseDuringHandshake turns a server-initiated Connection.Close seen
// before Open-Ok into an *Error carrying the real reply-code/text (403/530
// mark a permanent authentication/access failure, per errServerClose;
// any other code is treated as a transient close so reconnection may still
// retry). A Close with an empty reply-text becomes a permanent
// AuthenticationFailure instead, without the reply-code.
func (c *Connection) remoteCloseDuringHandshake(values map[string]any) error {
	replyCode, _ := values["reply-code"].(uint16)
	replyText, _ := values["reply-text"].(string)
	if replyText == "" {
		return errAuthenticationFailure()
	}
	return errServerClose(replyCode, replyText)
}

func (c *Connection) readOneFrame(ctx context.Context) (rawFrame, error) {
	head := make([]byte, headerHeadLength)
	if _, err := readFull(c.reader, head); err != nil {
		return rawFrame{}, errTransport(err, "read frame header")
	}
	typ := head[0]
	if err := validateFrameType(typ); err != nil {
		return rawFrame{}, err
	}
	size := beUint32(head[3:7])
	body := make([]byte, size+headerEndLength)
	if _, err := readFull(c.reader, body); err != nil {
		return rawFrame{}, errTransport(err, "read frame body")
	}
	if body[len(body)-1] != frameEnd {
		return rawFrame{}, errFrame("missing frame-end octet")
	}
	return rawFrame{Type: typ, Channel: beUint16(head[1:3]), Payload: body[:size]}, nil
}

func (c *Connection) handleHandshakeMethod(cm classMethod, values map[string]any) error {
	spec := methodSpecs[cm]
	if cm.ClassID != classConnection {
		return errUncaughtMethod(classNames[cm.ClassID], spec.name, c.state.String())
	}
	switch spec.name {
	case "Start":
		return c.handleStart(values)
	case "Secure":
		return c.handleSecure(values)
	case "Tune":
		return c.handleTune(values)
	case "Close":
		replyCode, _ := values["reply-code"].(uint16)
		replyText, _ := values["reply-text"].(string)
		return errServerClose(replyCode, replyText)
	default:
		return errUncaughtMethod("Connection", spec.name, c.state.String())
	}
}

func (c *Connection) handleStart(values map[string]any) error {
	major, _ := values["version-major"].(uint8)
	minor, _ := values["version-minor"].(uint8)
	if major != 0 || minor != 9 {
		return errBadServerVersion(int(major), int(minor))
	}
	if props, ok := values["server-properties"].(Table); ok {
		c.serverProperties = props
		c.fingerprint = fingerprintProperties(props)
	}

	response := c.opts.SASL.Response()
	frame, err := encodeMethodFrame(0, classMethod{classConnection, 11}, map[string]any{
		"client-properties": c.opts.clientProperties(),
		"mechanism":         c.opts.SASL.Mechanism(),
		"response":          response,
		"locale":            c.opts.Locale,
	})
	if err != nil {
		return err
	}
	if _, err := c.netConn.Write(frame); err != nil {
		return errTransport(err, "write Start-Ok")
	}
	c.state = stateAwaitingSecure
	return nil
}

func (c *Connection) handleSecure(values map[string]any) error {
	frame, err := encodeMethodFrame(0, classMethod{classConnection, 21}, map[string]any{
		"response": c.opts.SASL.Response(),
	})
	if err != nil {
		return err
	}
	if _, err := c.netConn.Write(frame); err != nil {
		return errTransport(err, "write Secure-Ok")
	}
	return nil
}

func (c *Connection) handleTune(values map[string]any) error {
	serverChannelMax, _ := values["channel-max"].(uint16)
	serverFrameMax, _ := values["frame-max"].(uint32)
	serverHeartbeat, _ := values["heartbeat"].(uint16)

	c.channelMax = negotiateMin16(serverChannelMax, c.opts.ChannelMax)
	c.frameMax = negotiateMin32(serverFrameMax, c.opts.FrameMax)
	heartbeatSec := negotiateMin16(serverHeartbeat, uint16(c.opts.Heartbeat/time.Second))
	c.heartbeat = time.Duration(heartbeatSec) * time.Second
	c.mux.setChannelMax(c.channelMax)
	c.parser.SetMaxFrameBuffer(int(c.frameMax))

	frame, err := encodeMethodFrame(0, classMethod{classConnection, 31}, map[string]any{
		"channel-max": c.channelMax, "frame-max": c.frameMax, "heartbeat": heartbeatSec,
	})
	if err != nil {
		return err
	}
	if _, err := c.netConn.Write(frame); err != nil {
		return errTransport(err, "write Tune-Ok")
	}

	openFrame, err := encodeMethodFrame(0, classMethod{classConnection, 40}, map[string]any{
		"virtual-host": c.opts.Vhost, "reserved-1": "", "reserved-2": false,
	})
	if err != nil {
		return err
	}
	if _, err := c.netConn.Write(openFrame); err != nil {
		return errTransport(err, "write Open")
	}
	c.state = stateAwaitingOpenOk
	return nil
}

func negotiateMin16(a, b uint16) uint16 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func negotiateMin32(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func fingerprintProperties(props Table) uint64 {
	h := xxhash.New()
	for k, v := range props {
		_, _ = h.WriteString(k)
		if s, ok := v.(string); ok {
			_, _ = h.WriteString(s)
		}
	}
	return h.Sum64()
}

// readLoop owns the socket after handshake completes, feeding bytes to
// the Parser and reacting to its callbacks, all synchronously — this is
// the single logical executor spec.md §5 requires. Grounded on
// chenggangschool-amqp's reader() goroutine, including the
// recover-and-report-on-panic discipline via internal/rescue.
func (c *Connection) readLoop() {
	defer rescue.HandleCrash()
	buf := make([]byte, 32*1024)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			if c.hb != nil {
				c.hb.noteActivity()
			}
			if ferr := c.parser.Feed(buf[:n]); ferr != nil {
				c.terminate(ferr.(*Error))
				return
			}
		}
		if err != nil {
			c.terminate(errTransport(err, "connection read"))
			return
		}
	}
}

func (c *Connection) onMethod(channel uint16, cm classMethod, values map[string]any) {
	if channel == 0 {
		c.onMethod0(cm, values)
		return
	}
	if ch, ok := c.mux.get(channel); ok {
		ch.dispatchMethod(cm, values)
	}
}

func (c *Connection) onMethod0(cm classMethod, values map[string]any) {
	spec := methodSpecs[cm]
	if c.pending0 != nil && spec.name == c.pending0.expect {
		p := c.pending0
		c.pending0 = nil
		p.done <- pendingResult{cm: cm, values: values}
		return
	}
	switch spec.name {
	case "Close":
		replyCode, _ := values["reply-code"].(uint16)
		replyText, _ := values["reply-text"].(string)
		_ = c.writeFrame(mustEncode(0, classMethod{classConnection, 51}, nil))
		c.terminate(errServerClose(replyCode, replyText))
	case "Blocked":
		reason, _ := values["reason"].(string)
		for _, fn := range c.listeners.onBlocked {
			fn(reason)
		}
	case "Unblocked":
		for _, fn := range c.listeners.onUnblocked {
			fn()
		}
	default:
		c.log.Warnf("uncaught connection method %s in state %s", cm, c.state)
	}
}

func (c *Connection) onContentHeader(channel uint16, header contentHeaderPayload) {
	if ch, ok := c.mux.get(channel); ok {
		ch.dispatchContentHeader(header)
	}
}

func (c *Connection) onContentBody(channel uint16, body []byte) {
	if ch, ok := c.mux.get(channel); ok {
		ch.dispatchContentBody(body)
	}
}

func (c *Connection) onHeartbeat() {
	if c.hb != nil {
		c.hb.noteHeartbeatReceived()
	}
}

// writeFrame serializes access to the socket from whatever goroutine is
// calling a blocking RPC (Channel/Exchange/Queue/Basic operations), mirroring
// chenggangschool-amqp's send() mutex.
func (c *Connection) writeFrame(frame []byte) error {
	<-c.writeMu
	defer func() { c.writeMu <- struct{}{} }()
	if c.hb != nil {
		c.hb.noteSend()
	}
	_, err := c.netConn.Write(frame)
	if err != nil {
		return errTransport(err, "write frame")
	}
	return nil
}

// Channel opens a new multiplexed channel and performs its Channel.Open
// handshake.
func (c *Connection) Channel() (*Channel, error) {
	if c.state != stateReady {
		return nil, errTransport(nil, "connection not ready (state=%s)", c.state)
	}
	ch, err := c.mux.allocate(c)
	if err != nil {
		return nil, err
	}
	if _, err := ch.call(classMethod{classChannel, 10}, map[string]any{"reserved-1": ""}); err != nil {
		c.mux.release(ch.id)
		return nil, err
	}
	return ch, nil
}

// Disconnect performs the graceful Connection.Close/Close-Ok handshake
// and tears down the socket.
func (c *Connection) Disconnect() error {
	if c.state != stateReady {
		return c.forceClose()
	}
	c.state = stateClosing
	done := make(chan pendingResult, 1)
	c.pending0 = &pendingCall{expect: "Close-Ok", done: done}
	frame, err := encodeMethodFrame(0, classMethod{classConnection, 50}, map[string]any{
		"reply-code": uint16(200), "reply-text": "client disconnect", "class-id": uint16(0), "method-id": uint16(0),
	})
	if err != nil {
		return err
	}
	if err := c.writeFrame(frame); err != nil {
		return c.forceClose()
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return c.forceClose()
}

func (c *Connection) forceClose() error {
	if c.hb != nil {
		c.hb.stop()
	}
	if c.netConn != nil {
		return c.netConn.Close()
	}
	return nil
}

// terminate is the single place a fatal error reaches the connection,
// whether observed locally (transport error) or signalled by the server
// (Connection.Close). It fans the error out to every channel, then to the
// reconnect supervisor if one is configured.
func (c *Connection) terminate(err *Error) {
	if c.state == stateFailed || c.state == stateDisconnected {
		return
	}
	c.state = stateFailed
	observeConnectionState(c.state)
	c.mux.releaseAll(err)
	_ = c.forceClose()
	for _, fn := range c.listeners.onError {
		fn(err)
	}
	for _, fn := range c.listeners.onClose {
		fn(err)
	}
	if c.reconnect != nil {
		c.reconnect.onDisconnect(err)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func beUint16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
