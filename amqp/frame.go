package amqp

import (
	"encoding/binary"

	"github.com/valyala/bytebufferpool"
)

// Frame type octets, same constants and values as the teacher's
// protocol/pamqp/decoder.go.
const (
	frameMethod        uint8 = 1
	frameHeader        uint8 = 2
	frameBody          uint8 = 3
	frameHeartbeat     uint8 = 8
	frameEnd           uint8 = 0xCE
	headerHeadLength         = 7 // type(1) + channel(2) + payload-size(4)
	headerEndLength          = 1
	maxPayloadSize           = 2147483647
)

// protocolHeader is the literal byte sequence a client writes before any
// frame, and the one the server is expected to echo on a version mismatch.
var protocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

func validateFrameType(t uint8) error {
	switch t {
	case frameMethod, frameHeader, frameBody, frameHeartbeat:
		return nil
	default:
		return errFrame("invalid frame type %d", t)
	}
}

// rawFrame is a fully decoded frame, one level below the typed
// method/header/body/heartbeat events the parser emits.
type rawFrame struct {
	Type    uint8
	Channel uint16
	Payload []byte
}

// contentHeaderPayload is the decoded body of a frameHeader frame: class,
// total body size, and a sparse set of Basic content properties selected
// by propertyFlags. Field layout and the default content-type follow
// SPEC_FULL.md's "full Basic content-header property list" addition; the
// teacher's channel.go only ever reads classIndex/bodySize and discards
// the property flags entirely.
type contentHeaderPayload struct {
	ClassID    uint16
	BodySize   uint64
	Properties BasicProperties
}

// BasicProperties holds the Basic-class content properties, one bool-less
// bit per field via propertyFlags on the wire.
type BasicProperties struct {
	ContentType     string
	ContentEncoding string
	Headers         Table
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       int64
	Type            string
	UserId          string
	AppId           string
}

// property flag bits, high bit of the first (and only, in practice) flag
// word first, per the AMQP 0-9-1 content-header encoding.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationId   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageId       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserId          = 1 << 4
	flagAppId           = 1 << 3
)

// decodeRawFrame splits a 7-byte head off buf and validates the trailing
// frameEnd octet, mirroring the teacher's decoder.decodeHeader exactly
// (same constant names, same big-endian layout) but returning the frame
// in one shot instead of mutating decoder state, since the parser (not
// this function) owns buffering across reads.
func decodeRawFrame(buf []byte) (rawFrame, int, error) {
	if len(buf) < headerHeadLength {
		return rawFrame{}, 0, nil // need more data
	}
	typ := buf[0]
	if err := validateFrameType(typ); err != nil {
		return rawFrame{}, 0, err
	}
	channel := binary.BigEndian.Uint16(buf[1:3])
	size := binary.BigEndian.Uint32(buf[3:7])
	if size > maxPayloadSize {
		return rawFrame{}, 0, errFrame("payload size %d exceeds max %d", size, maxPayloadSize)
	}
	total := headerHeadLength + int(size) + headerEndLength
	if len(buf) < total {
		return rawFrame{}, 0, nil // need more data
	}
	if buf[total-1] != frameEnd {
		return rawFrame{}, 0, errFrame("missing frame-end octet (got 0x%02x)", buf[total-1])
	}
	payload := make([]byte, size)
	copy(payload, buf[headerHeadLength:headerHeadLength+int(size)])
	return rawFrame{Type: typ, Channel: channel, Payload: payload}, total, nil
}

// encodeRawFrame writes a complete frame (head + payload + frameEnd) to a
// pooled buffer. The length word is computed from len(payload), which is
// always fully built before this is called — see DESIGN.md's Open
// Question decision: there is never a placeholder length patched in
// place.
func encodeRawFrame(typ uint8, channel uint16, payload []byte) []byte {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	var head [headerHeadLength]byte
	head[0] = typ
	binary.BigEndian.PutUint16(head[1:3], channel)
	binary.BigEndian.PutUint32(head[3:7], uint32(len(payload)))
	_, _ = bb.Write(head[:])
	_, _ = bb.Write(payload)
	_ = bb.WriteByte(frameEnd)

	out := make([]byte, bb.Len())
	copy(out, bb.Bytes())
	return out
}

// encodeMethodFrame serializes a method's argument values per its schema,
// then wraps them in a frameMethod frame.
func encodeMethodFrame(channel uint16, cm classMethod, values map[string]any) ([]byte, error) {
	spec, ok := methodSpecs[cm]
	if !ok {
		return nil, errUnknownMethod(cm.ClassID, cm.MethodID)
	}
	w := &byteWriter{}
	w.writeUint16(cm.ClassID)
	w.writeUint16(cm.MethodID)
	if err := encodeFields(w, spec.fields, values); err != nil {
		return nil, err
	}
	return encodeRawFrame(frameMethod, channel, w.buf), nil
}

// decodeMethodFrame parses a frameMethod payload into a field value map
// keyed by field name, using the schema the (class, method) pair resolves
// to in classmethod.go.
func decodeMethodFrame(payload []byte) (classMethod, map[string]any, error) {
	r := &byteReader{buf: payload}
	classID, err := r.readUint16()
	if err != nil {
		return classMethod{}, nil, err
	}
	methodID, err := r.readUint16()
	if err != nil {
		return classMethod{}, nil, err
	}
	cm, spec, err := lookupMethod(classID, methodID)
	if err != nil {
		return cm, nil, err
	}
	values, err := decodeFields(r, spec.fields)
	if err != nil {
		return cm, nil, err
	}
	return cm, values, nil
}

// encodeContentHeaderFrame builds the frameHeader payload: class-id,
// weight (always 0), body size, the property-flags bitmap, and the
// present properties in wire order. When no property is set, content-type
// defaults to application/octet-stream.
func encodeContentHeaderFrame(channel uint16, classID uint16, bodySize uint64, props BasicProperties) []byte {
	w := &byteWriter{}
	w.writeUint16(classID)
	w.writeUint16(0) // weight, unused
	w.writeUint64(bodySize)

	flags := propertyFlags(props)
	if flags == 0 {
		props.ContentType = "application/octet-stream"
		flags = flagContentType
	}
	w.writeUint16(flags)

	if flags&flagContentType != 0 {
		_ = w.writeShortStr(props.ContentType)
	}
	if flags&flagContentEncoding != 0 {
		_ = w.writeShortStr(props.ContentEncoding)
	}
	if flags&flagHeaders != 0 {
		_ = w.writeTable(props.Headers)
	}
	if flags&flagDeliveryMode != 0 {
		w.writeUint8(props.DeliveryMode)
	}
	if flags&flagPriority != 0 {
		w.writeUint8(props.Priority)
	}
	if flags&flagCorrelationId != 0 {
		_ = w.writeShortStr(props.CorrelationId)
	}
	if flags&flagReplyTo != 0 {
		_ = w.writeShortStr(props.ReplyTo)
	}
	if flags&flagExpiration != 0 {
		_ = w.writeShortStr(props.Expiration)
	}
	if flags&flagMessageId != 0 {
		_ = w.writeShortStr(props.MessageId)
	}
	if flags&flagTimestamp != 0 {
		w.writeUint64(uint64(props.Timestamp))
	}
	if flags&flagType != 0 {
		_ = w.writeShortStr(props.Type)
	}
	if flags&flagUserId != 0 {
		_ = w.writeShortStr(props.UserId)
	}
	if flags&flagAppId != 0 {
		_ = w.writeShortStr(props.AppId)
	}
	return encodeRawFrame(frameHeader, channel, w.buf)
}

func propertyFlags(p BasicProperties) uint16 {
	var f uint16
	if p.ContentType != "" {
		f |= flagContentType
	}
	if p.ContentEncoding != "" {
		f |= flagContentEncoding
	}
	if p.Headers != nil {
		f |= flagHeaders
	}
	if p.DeliveryMode != 0 {
		f |= flagDeliveryMode
	}
	if p.Priority != 0 {
		f |= flagPriority
	}
	if p.CorrelationId != "" {
		f |= flagCorrelationId
	}
	if p.ReplyTo != "" {
		f |= flagReplyTo
	}
	if p.Expiration != "" {
		f |= flagExpiration
	}
	if p.MessageId != "" {
		f |= flagMessageId
	}
	if p.Timestamp != 0 {
		f |= flagTimestamp
	}
	if p.Type != "" {
		f |= flagType
	}
	if p.UserId != "" {
		f |= flagUserId
	}
	if p.AppId != "" {
		f |= flagAppId
	}
	return f
}

func decodeContentHeaderFrame(payload []byte) (contentHeaderPayload, error) {
	r := &byteReader{buf: payload}
	classID, err := r.readUint16()
	if err != nil {
		return contentHeaderPayload{}, err
	}
	if _, err := r.readUint16(); err != nil { // weight, unused
		return contentHeaderPayload{}, err
	}
	bodySize, err := r.readUint64()
	if err != nil {
		return contentHeaderPayload{}, err
	}
	flags, err := r.readUint16()
	if err != nil {
		return contentHeaderPayload{}, err
	}

	var props BasicProperties
	if flags&flagContentType != 0 {
		if props.ContentType, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagContentEncoding != 0 {
		if props.ContentEncoding, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagHeaders != 0 {
		if props.Headers, err = r.readTable(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		if props.DeliveryMode, err = r.readUint8(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagPriority != 0 {
		if props.Priority, err = r.readUint8(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagCorrelationId != 0 {
		if props.CorrelationId, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagReplyTo != 0 {
		if props.ReplyTo, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagExpiration != 0 {
		if props.Expiration, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagMessageId != 0 {
		if props.MessageId, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagTimestamp != 0 {
		ts, err := r.readUint64()
		if err != nil {
			return contentHeaderPayload{}, err
		}
		props.Timestamp = int64(ts)
	}
	if flags&flagType != 0 {
		if props.Type, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagUserId != 0 {
		if props.UserId, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	if flags&flagAppId != 0 {
		if props.AppId, err = r.readShortStr(); err != nil {
			return contentHeaderPayload{}, err
		}
	}
	return contentHeaderPayload{ClassID: classID, BodySize: bodySize, Properties: props}, nil
}

// frameOverhead is the 7-byte header plus 1-byte frame-end every frame
// carries beyond its payload; spec.md §4.1 bounds a body frame's payload
// at negotiatedFrameMax-frameOverhead, not at the raw negotiated value.
const frameOverhead = headerHeadLength + headerEndLength

// chunkBody splits body into frames whose payload is no larger than
// frameMax-frameOverhead (frameMax being the negotiated Connection.Tune
// frame-max, i.e. the ceiling on an entire wire frame including its
// header/frame-end), each wrapped as a frameBody frame on channel.
func chunkBody(channel uint16, body []byte, frameMax uint32) [][]byte {
	maxPayload := frameMax
	if maxPayload == 0 || maxPayload > maxPayloadSize {
		maxPayload = maxPayloadSize
	} else if maxPayload > frameOverhead {
		maxPayload -= frameOverhead
	}
	if len(body) == 0 {
		return [][]byte{encodeRawFrame(frameBody, channel, nil)}
	}
	var frames [][]byte
	for len(body) > 0 {
		n := len(body)
		if uint32(n) > maxPayload {
			n = int(maxPayload)
		}
		frames = append(frames, encodeRawFrame(frameBody, channel, body[:n]))
		body = body[n:]
	}
	return frames
}

func encodeHeartbeatFrame() []byte {
	return encodeRawFrame(frameHeartbeat, 0, nil)
}

// encodeFields walks a method's field schema in order, pulling each named
// value out of values (missing optional flags/strings default to zero
// values), packing consecutive domainBit fields into single octets per
// the AMQP 0-9-1 bit-packing rule.
func encodeFields(w *byteWriter, fields []field, values map[string]any) error {
	i := 0
	for i < len(fields) {
		if fields[i].domain == domainBit {
			var b uint8
			j := i
			for bit := 0; j < len(fields) && fields[j].domain == domainBit && bit < 8; bit++ {
				if truthy(values[fields[j].name]) {
					b |= 1 << uint(bit)
				}
				j++
			}
			w.writeUint8(b)
			i = j
			continue
		}
		if err := encodeOneField(w, fields[i], values[fields[i].name]); err != nil {
			return err
		}
		i++
	}
	return nil
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

func encodeOneField(w *byteWriter, f field, v any) error {
	switch f.domain {
	case domainOctet:
		u, _ := v.(uint8)
		w.writeUint8(u)
	case domainShort:
		u, _ := v.(uint16)
		w.writeUint16(u)
	case domainLong:
		u, _ := v.(uint32)
		w.writeUint32(u)
	case domainLongLong:
		u, _ := v.(uint64)
		w.writeUint64(u)
	case domainShortStr:
		s, _ := v.(string)
		return w.writeShortStr(s)
	case domainLongStr:
		s, _ := v.(string)
		w.writeLongStr(s)
	case domainTimestamp:
		switch t := v.(type) {
		case int64:
			w.writeUint64(uint64(t))
		default:
			w.writeUint64(0)
		}
	case domainTable:
		t, _ := v.(Table)
		return w.writeTable(t)
	default:
		return errFrame("unsupported field domain %d for %q", f.domain, f.name)
	}
	return nil
}

// decodeFields is encodeFields' mirror image, returning a name→value map.
func decodeFields(r *byteReader, fields []field) (map[string]any, error) {
	values := make(map[string]any, len(fields))
	i := 0
	for i < len(fields) {
		if fields[i].domain == domainBit {
			b, err := r.readUint8()
			if err != nil {
				return nil, err
			}
			j := i
			for bit := 0; j < len(fields) && fields[j].domain == domainBit && bit < 8; bit++ {
				values[fields[j].name] = b&(1<<uint(bit)) != 0
				j++
			}
			i = j
			continue
		}
		v, err := decodeOneField(r, fields[i])
		if err != nil {
			return nil, err
		}
		values[fields[i].name] = v
		i++
	}
	return values, nil
}

func decodeOneField(r *byteReader, f field) (any, error) {
	switch f.domain {
	case domainOctet:
		return r.readUint8()
	case domainShort:
		return r.readUint16()
	case domainLong:
		return r.readUint32()
	case domainLongLong:
		return r.readUint64()
	case domainShortStr:
		return r.readShortStr()
	case domainLongStr:
		return r.readLongStr()
	case domainTimestamp:
		t, err := r.readUint64()
		return int64(t), err
	case domainTable:
		return r.readTable()
	default:
		return nil, errFrame("unsupported field domain %d for %q", f.domain, f.name)
	}
}
