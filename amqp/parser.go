package amqp

// Parser turns a byte stream into typed frame events. It owns a single
// accumulation buffer and is fed in arbitrary-sized chunks as they arrive
// off the socket — generalized from the teacher's protocol/pamqp/decoder.go
// Decode loop (state machine over stateDecodeHeader/stateDecodePayload),
// collapsed here into decodeRawFrame's single "do we have enough bytes
// yet" check since the parser, not per-state flags, tracks the cursor.
//
// Unlike the teacher, which runs one decoder per captured TCP flow and
// evicts least-recently-seen channels to bound memory on an unbounded
// number of sniffed connections, this Parser belongs to exactly one
// connection we dialed ourselves; the only unbounded-growth risk is a
// single slow/malicious frame, which maxFrameBuffer below guards against.
type Parser struct {
	buf []byte

	maxFrameBuffer int

	OnMethod        func(channel uint16, cm classMethod, values map[string]any)
	OnContentHeader func(channel uint16, header contentHeaderPayload)
	OnContentBody   func(channel uint16, body []byte)
	OnHeartbeat     func()
}

// defaultMaxFrameBuffer bounds a single frame's payload size before the
// Connection.Tune negotiation sets the real frameMax; spec.md §4.3 leaves
// the pre-negotiation ceiling to the implementation.
const defaultMaxFrameBuffer = 128 * 1024 * 1024

// NewParser returns a Parser with defaultMaxFrameBuffer as its ceiling;
// call SetMaxFrameBuffer once Connection.Tune negotiates the real limit.
func NewParser() *Parser {
	return &Parser{maxFrameBuffer: defaultMaxFrameBuffer}
}

// SetMaxFrameBuffer adjusts the ceiling once Tune/Tune-Ok have agreed on
// the real frame-max for this connection.
func (p *Parser) SetMaxFrameBuffer(n int) {
	if n > 0 {
		p.maxFrameBuffer = n
	}
}

// Feed appends data to the parser's buffer and dispatches every complete
// frame it can find, in order. It returns as soon as either the buffer is
// exhausted or a malformed frame is found; a returned error is always
// fatal to the connection (spec.md §7 FrameError).
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)

	for {
		frame, consumed, err := decodeRawFrame(p.buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			if len(p.buf) > p.maxFrameBuffer+headerHeadLength+headerEndLength {
				return errFrame("frame buffer exceeded %d bytes without completing a frame", p.maxFrameBuffer)
			}
			break // need more bytes
		}
		p.buf = p.buf[consumed:]
		if err := p.dispatch(frame); err != nil {
			return err
		}
	}

	// Compact: drop the processed prefix so a long-lived connection
	// doesn't retain a growing backing array.
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return nil
}

func (p *Parser) dispatch(f rawFrame) error {
	switch f.Type {
	case frameMethod:
		cm, values, err := decodeMethodFrame(f.Payload)
		if err != nil {
			return err
		}
		if p.OnMethod != nil {
			p.OnMethod(f.Channel, cm, values)
		}
	case frameHeader:
		header, err := decodeContentHeaderFrame(f.Payload)
		if err != nil {
			return err
		}
		if p.OnContentHeader != nil {
			p.OnContentHeader(f.Channel, header)
		}
	case frameBody:
		if p.OnContentBody != nil {
			p.OnContentBody(f.Channel, f.Payload)
		}
	case frameHeartbeat:
		if p.OnHeartbeat != nil {
			p.OnHeartbeat()
		}
	default:
		return errFrame("invalid frame type %d", f.Type)
	}
	return nil
}
