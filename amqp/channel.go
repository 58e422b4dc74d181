package amqp

import (
	"github.com/google/uuid"
)

// defaultChannelMax bounds the id space a multiplexer can hand out before the
// server's Tune negotiates a (possibly lower) real ceiling; 0 is reserved
// for the connection itself everywhere in AMQP 0-9-1.
const defaultChannelMax = 2047

// channelMux allocates and tracks the per-channel state for one
// Connection. Generalized from the teacher's decoder.getOrCreateChannel/
// deleteChannel pair (protocol/pamqp/decoder.go): the teacher evicts
// least-recently-seen channels because it is decoding an unbounded number
// of sniffed flows; a dialed connection instead allocates ids itself and
// must never hand out one already in use, so eviction is replaced with
// the scan-with-wraparound allocator spec.md §4.4 names.
type channelMux struct {
	channelMax uint16
	next       uint16
	channels   map[uint16]*Channel
}

func newChannelMux() *channelMux {
	return &channelMux{channelMax: defaultChannelMax, channels: map[uint16]*Channel{}}
}

func (m *channelMux) setChannelMax(n uint16) {
	if n > 0 {
		m.channelMax = n
	}
}

// allocate scans forward from the id after the last one handed out,
// wrapping at channelMax, and returns the first free slot. Returns
// NoChannelsAvailable once every id in [1, channelMax] is in use.
func (m *channelMux) allocate(conn *Connection) (*Channel, error) {
	if len(m.channels) >= int(m.channelMax) {
		return nil, errNoChannelsAvailable()
	}
	start := int(m.next)
	if start == 0 {
		start = 1
	}
	for i := 0; i < int(m.channelMax); i++ {
		id := uint16((start-1+i)%int(m.channelMax) + 1)
		if _, taken := m.channels[id]; !taken {
			ch := &Channel{id: id, conn: conn, consumers: map[string]func(Delivery){}}
			m.channels[id] = ch
			m.next = id + 1
			return ch, nil
		}
	}
	return nil, errNoChannelsAvailable()
}

func (m *channelMux) get(id uint16) (*Channel, bool) {
	ch, ok := m.channels[id]
	return ch, ok
}

func (m *channelMux) release(id uint16) {
	delete(m.channels, id)
}

func (m *channelMux) releaseAll(err *Error) {
	for id, ch := range m.channels {
		ch.fail(err)
		delete(m.channels, id)
	}
}

// Delivery is the fully-assembled message a consumer or Basic.Get caller
// receives: the Deliver/Get-Ok method fields, the content-header
// properties, and the reassembled body.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
	Properties  BasicProperties
	Body        []byte
}

// contentAssembly tracks an in-flight Deliver/Return/Get-Ok while its
// content header and body frames are still arriving, grounded on the
// teacher's channelDecoder.archive/reset pair (protocol/pamqp/channel.go),
// which holds exactly this kind of "method seen, header pending" state.
type contentAssembly struct {
	method       classMethod
	values       map[string]any
	header       *contentHeaderPayload
	body         []byte
	bodyExpected uint64
}

type pendingCall struct {
	expect string // e.g. "Declare-Ok"
	done   chan pendingResult
}

type pendingResult struct {
	cm     classMethod
	values map[string]any
	err    error
}

// Channel is one multiplexed AMQP channel. Its dispatch methods run on the
// connection's single read-loop goroutine (spec.md §5); the only
// cross-goroutine boundary is writing an outbound frame and waiting on
// pendingCall.done, both of which use the connection's writeMu/pendingCall
// the way streadway/amqp's Connection.call does.
type Channel struct {
	id     uint16
	conn   *Connection
	closed bool
	err    *Error

	assembling *contentAssembly
	pending    *pendingCall

	consumers map[string]func(Delivery)
	onReturn  []func(Delivery)
	onFlow    []func(active bool)
	onClose   []func(*Error)
}

func (ch *Channel) ID() uint16 { return ch.id }

// nextConsumerTag mints a default tag when the caller doesn't supply one,
// grounded on the teacher's internal/pubsub use of uuid.New().String()
// for generated identifiers.
func (ch *Channel) nextConsumerTag() string {
	return "ctag-" + uuid.New().String()
}

func (ch *Channel) call(cm classMethod, values map[string]any) (map[string]any, error) {
	if ch.closed {
		return nil, ch.err
	}
	spec, ok := methodSpecs[cm]
	if !ok {
		return nil, errUnknownMethod(cm.ClassID, cm.MethodID)
	}
	_, span := startMethodSpan(ch.conn, cm)
	defer span.End()

	expectName, wantsReply := classMethodPairs[spec.name]

	frame, err := encodeMethodFrame(ch.id, cm, values)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	if !wantsReply {
		err := ch.conn.writeFrame(frame)
		if err != nil {
			recordSpanError(span, err)
		}
		return nil, err
	}

	done := make(chan pendingResult, 1)
	ch.pending = &pendingCall{expect: expectName, done: done}
	if err := ch.conn.writeFrame(frame); err != nil {
		ch.pending = nil
		recordSpanError(span, err)
		return nil, err
	}
	res := <-done
	if res.err != nil {
		recordSpanError(span, res.err)
	}
	return res.values, res.err
}

// dispatchMethod is invoked synchronously from the connection's read loop
// for every frameMethod addressed to this channel.
func (ch *Channel) dispatchMethod(cm classMethod, values map[string]any) {
	spec := methodSpecs[cm]

	// Content-carrying methods, including a Get-Ok answering a pending
	// Get, complete only once their header and body have arrived.
	if classMethodNeedsAssembly(cm) {
		ch.assembling = &contentAssembly{method: cm, values: values}
		return
	}

	if ch.pending != nil && spec.name == ch.pending.expect {
		p := ch.pending
		ch.pending = nil
		p.done <- pendingResult{cm: cm, values: values}
		return
	}

	switch {
	case cm.ClassID == classChannel && spec.name == "Close":
		replyCode, _ := values["reply-code"].(uint16)
		replyText, _ := values["reply-text"].(string)
		cErr := errServerClose(replyCode, replyText)
		_ = ch.conn.writeFrame(mustEncode(ch.id, classMethod{classChannel, 41}, nil))
		ch.fail(cErr)
	case cm.ClassID == classChannel && spec.name == "Flow":
		active, _ := values["active"].(bool)
		for _, fn := range ch.onFlow {
			fn(active)
		}
		_, _ = ch.call(classMethod{classChannel, 21}, map[string]any{"active": active})
	case cm.ClassID == classBasic && spec.name == "Cancel":
		tag, _ := values["consumer-tag"].(string)
		delete(ch.consumers, tag)
	case cm.ClassID == classBasic && spec.name == "Ack", cm.ClassID == classBasic && spec.name == "Nack":
		// broker-sent publisher-confirm acks; no per-message
		// outstanding-confirm tracking is kept at this layer.
	case cm.ClassID == classBasic && spec.name == "Get-Empty":
		if ch.pending != nil {
			p := ch.pending
			ch.pending = nil
			p.done <- pendingResult{cm: cm}
		}
	default:
		if ch.pending != nil {
			p := ch.pending
			ch.pending = nil
			p.done <- pendingResult{err: errUncaughtMethod(classNames[cm.ClassID], spec.name, "awaiting-reply")}
		}
	}
}

func classMethodNeedsAssembly(cm classMethod) bool {
	_, ok := classMethodNeedContentHeader[cm]
	return ok
}

func (ch *Channel) dispatchContentHeader(header contentHeaderPayload) {
	if ch.assembling == nil {
		return
	}
	h := header
	ch.assembling.header = &h
	ch.assembling.bodyExpected = header.BodySize
	if header.BodySize == 0 {
		ch.completeAssembly()
	}
}

func (ch *Channel) dispatchContentBody(body []byte) {
	if ch.assembling == nil {
		return
	}
	ch.assembling.body = append(ch.assembling.body, body...)
	if uint64(len(ch.assembling.body)) >= ch.assembling.bodyExpected {
		ch.completeAssembly()
	}
}

func (ch *Channel) completeAssembly() {
	a := ch.assembling
	ch.assembling = nil
	if a.header == nil {
		return
	}
	spec := methodSpecs[a.method]
	d := Delivery{Properties: a.header.Properties, Body: a.body}

	switch spec.name {
	case "Deliver":
		d.ConsumerTag, _ = a.values["consumer-tag"].(string)
		d.DeliveryTag, _ = a.values["delivery-tag"].(uint64)
		d.Redelivered, _ = a.values["redelivered"].(bool)
		d.Exchange, _ = a.values["exchange"].(string)
		d.RoutingKey, _ = a.values["routing-key"].(string)
		if fn, ok := ch.consumers[d.ConsumerTag]; ok {
			fn(d)
		}
	case "Return":
		d.Exchange, _ = a.values["exchange"].(string)
		d.RoutingKey, _ = a.values["routing-key"].(string)
		for _, fn := range ch.onReturn {
			fn(d)
		}
	case "Get-Ok":
		d.DeliveryTag, _ = a.values["delivery-tag"].(uint64)
		d.Redelivered, _ = a.values["redelivered"].(bool)
		d.Exchange, _ = a.values["exchange"].(string)
		d.RoutingKey, _ = a.values["routing-key"].(string)
		if ch.pending != nil {
			p := ch.pending
			ch.pending = nil
			p.done <- pendingResult{cm: a.method, values: map[string]any{"__delivery": d}}
		}
	}
}

// fail marks the channel closed with err and wakes up any pending call.
func (ch *Channel) fail(err *Error) {
	if ch.closed {
		return
	}
	ch.closed = true
	ch.err = err
	if ch.pending != nil {
		p := ch.pending
		ch.pending = nil
		p.done <- pendingResult{err: err}
	}
	for _, fn := range ch.onClose {
		fn(err)
	}
}

func mustEncode(channel uint16, cm classMethod, values map[string]any) []byte {
	frame, err := encodeMethodFrame(channel, cm, values)
	if err != nil {
		// classmethod.go's table is static and compiled-in; a failure
		// here means the table itself is wrong, which is a programming
		// error, not a runtime condition callers can act on.
		panic(err)
	}
	return frame
}
