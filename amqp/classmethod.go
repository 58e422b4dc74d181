package amqp

// classMethod identifies an AMQP method by its (class, method) wire ids.
// Generalized from the teacher's protocol/pamqp/classmethod.go, which
// only carries a name per pair; this also carries the field schema both
// the encoder and the decoder consult.
type classMethod struct {
	ClassID  uint16
	MethodID uint16
}

func (cm classMethod) String() string {
	if s, ok := methodSpecs[cm]; ok {
		return classNames[cm.ClassID] + "." + s.name
	}
	return "unknown"
}

const (
	classConnection = 10
	classChannel    = 20
	classExchange   = 40
	classQueue      = 50
	classBasic      = 60
	classConfirm    = 85
	classTx         = 90
)

var classNames = map[uint16]string{
	classConnection: "Connection",
	classChannel:    "Channel",
	classExchange:   "Exchange",
	classQueue:      "Queue",
	classBasic:      "Basic",
	classConfirm:    "Confirm",
	classTx:         "Tx",
}

// domain is an AMQP 0-9-1 wire type used by method and header fields.
type domain uint8

const (
	domainBit domain = iota
	domainOctet
	domainShort
	domainLong
	domainLongLong
	domainShortStr
	domainLongStr
	domainTimestamp
	domainTable
)

type field struct {
	name   string
	domain domain
}

type methodSpec struct {
	name       string
	fields     []field
	isResponse bool // true for the "-Ok"/async reply half of a request/reply pair
}

// classMethodPairs maps a request method name to the name of its synchronous
// reply, mirroring the teacher's classMethodPairs (protocol/pamqp/classmethod.go),
// used by the Connection/Channel state machines to recognize completions.
var classMethodPairs = map[string]string{
	"Start":    "Start-Ok",
	"Secure":   "Secure-Ok",
	"Tune":     "Tune-Ok",
	"Open":     "Open-Ok",
	"Close":    "Close-Ok",
	"Flow":     "Flow-Ok",
	"Declare":  "Declare-Ok",
	"Delete":   "Delete-Ok",
	"Bind":     "Bind-Ok",
	"Unbind":   "Unbind-Ok",
	"Purge":    "Purge-Ok",
	"Qos":      "Qos-Ok",
	"Consume":  "Consume-Ok",
	"Cancel":   "Cancel-Ok",
	"Get":      "Get-Ok",
	"Recover":  "Recover-Ok",
	"Select":   "Select-Ok",
	"Commit":   "Commit-Ok",
	"Rollback": "Rollback-Ok",
}

// classMethodNeedContentHeader marks the methods that are followed by a
// content header + body (Basic.Publish/Return/Deliver/Get-Ok), same set the
// teacher flags in classMethodNeedContentHeader.
var classMethodNeedContentHeader = map[classMethod]struct{}{
	{ClassID: classBasic, MethodID: 40}: {}, // Publish
	{ClassID: classBasic, MethodID: 50}: {}, // Return
	{ClassID: classBasic, MethodID: 60}: {}, // Deliver
	{ClassID: classBasic, MethodID: 71}: {}, // Get-Ok
}

var methodSpecs = map[classMethod]methodSpec{
	// Connection (10)
	{classConnection, 10}: {name: "Start", fields: []field{
		{"version-major", domainOctet}, {"version-minor", domainOctet},
		{"server-properties", domainTable}, {"mechanisms", domainLongStr}, {"locales", domainLongStr},
	}},
	{classConnection, 11}: {name: "Start-Ok", isResponse: true, fields: []field{
		{"client-properties", domainTable}, {"mechanism", domainShortStr},
		{"response", domainLongStr}, {"locale", domainShortStr},
	}},
	{classConnection, 20}: {name: "Secure", fields: []field{{"challenge", domainLongStr}}},
	{classConnection, 21}: {name: "Secure-Ok", isResponse: true, fields: []field{{"response", domainLongStr}}},
	{classConnection, 30}: {name: "Tune", fields: []field{
		{"channel-max", domainShort}, {"frame-max", domainLong}, {"heartbeat", domainShort},
	}},
	{classConnection, 31}: {name: "Tune-Ok", isResponse: true, fields: []field{
		{"channel-max", domainShort}, {"frame-max", domainLong}, {"heartbeat", domainShort},
	}},
	{classConnection, 40}: {name: "Open", fields: []field{
		{"virtual-host", domainShortStr}, {"reserved-1", domainShortStr}, {"reserved-2", domainBit},
	}},
	{classConnection, 41}: {name: "Open-Ok", isResponse: true, fields: []field{{"reserved-1", domainShortStr}}},
	{classConnection, 50}: {name: "Close", fields: []field{
		{"reply-code", domainShort}, {"reply-text", domainShortStr},
		{"class-id", domainShort}, {"method-id", domainShort},
	}},
	{classConnection, 51}: {name: "Close-Ok", isResponse: true},
	{classConnection, 60}: {name: "Blocked", fields: []field{{"reason", domainShortStr}}},
	{classConnection, 61}: {name: "Unblocked"},

	// Channel (20)
	{classChannel, 10}: {name: "Open", fields: []field{{"reserved-1", domainShortStr}}},
	{classChannel, 11}: {name: "Open-Ok", isResponse: true, fields: []field{{"reserved-1", domainLongStr}}},
	{classChannel, 20}: {name: "Flow", fields: []field{{"active", domainBit}}},
	{classChannel, 21}: {name: "Flow-Ok", isResponse: true, fields: []field{{"active", domainBit}}},
	{classChannel, 40}: {name: "Close", fields: []field{
		{"reply-code", domainShort}, {"reply-text", domainShortStr},
		{"class-id", domainShort}, {"method-id", domainShort},
	}},
	{classChannel, 41}: {name: "Close-Ok", isResponse: true},

	// Exchange (40)
	{classExchange, 10}: {name: "Declare", fields: []field{
		{"reserved-1", domainShort}, {"exchange", domainShortStr}, {"type", domainShortStr},
		{"passive", domainBit}, {"durable", domainBit}, {"auto-delete", domainBit},
		{"internal", domainBit}, {"no-wait", domainBit}, {"arguments", domainTable},
	}},
	{classExchange, 11}: {name: "Declare-Ok", isResponse: true},
	{classExchange, 20}: {name: "Delete", fields: []field{
		{"reserved-1", domainShort}, {"exchange", domainShortStr},
		{"if-unused", domainBit}, {"no-wait", domainBit},
	}},
	{classExchange, 21}: {name: "Delete-Ok", isResponse: true},

	// Queue (50)
	{classQueue, 10}: {name: "Declare", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr},
		{"passive", domainBit}, {"durable", domainBit}, {"exclusive", domainBit},
		{"auto-delete", domainBit}, {"no-wait", domainBit}, {"arguments", domainTable},
	}},
	{classQueue, 11}: {name: "Declare-Ok", isResponse: true, fields: []field{
		{"queue", domainShortStr}, {"message-count", domainLong}, {"consumer-count", domainLong},
	}},
	{classQueue, 20}: {name: "Bind", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr}, {"exchange", domainShortStr},
		{"routing-key", domainShortStr}, {"no-wait", domainBit}, {"arguments", domainTable},
	}},
	{classQueue, 21}: {name: "Bind-Ok", isResponse: true},
	{classQueue, 30}: {name: "Purge", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr}, {"no-wait", domainBit},
	}},
	{classQueue, 31}: {name: "Purge-Ok", isResponse: true, fields: []field{{"message-count", domainLong}}},
	{classQueue, 40}: {name: "Delete", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr},
		{"if-unused", domainBit}, {"if-empty", domainBit}, {"no-wait", domainBit},
	}},
	{classQueue, 41}: {name: "Delete-Ok", isResponse: true, fields: []field{{"message-count", domainLong}}},
	{classQueue, 50}: {name: "Unbind", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr}, {"exchange", domainShortStr},
		{"routing-key", domainShortStr}, {"arguments", domainTable},
	}},
	{classQueue, 51}: {name: "Unbind-Ok", isResponse: true},

	// Basic (60)
	{classBasic, 10}: {name: "Qos", fields: []field{
		{"prefetch-size", domainLong}, {"prefetch-count", domainShort}, {"global", domainBit},
	}},
	{classBasic, 11}: {name: "Qos-Ok", isResponse: true},
	{classBasic, 20}: {name: "Consume", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr}, {"consumer-tag", domainShortStr},
		{"no-local", domainBit}, {"no-ack", domainBit}, {"exclusive", domainBit},
		{"no-wait", domainBit}, {"arguments", domainTable},
	}},
	{classBasic, 21}: {name: "Consume-Ok", isResponse: true, fields: []field{{"consumer-tag", domainShortStr}}},
	{classBasic, 30}: {name: "Cancel", fields: []field{{"consumer-tag", domainShortStr}, {"no-wait", domainBit}}},
	{classBasic, 31}: {name: "Cancel-Ok", isResponse: true, fields: []field{{"consumer-tag", domainShortStr}}},
	{classBasic, 40}: {name: "Publish", fields: []field{
		{"reserved-1", domainShort}, {"exchange", domainShortStr}, {"routing-key", domainShortStr},
		{"mandatory", domainBit}, {"immediate", domainBit},
	}},
	{classBasic, 50}: {name: "Return", fields: []field{
		{"reply-code", domainShort}, {"reply-text", domainShortStr},
		{"exchange", domainShortStr}, {"routing-key", domainShortStr},
	}},
	{classBasic, 60}: {name: "Deliver", fields: []field{
		{"consumer-tag", domainShortStr}, {"delivery-tag", domainLongLong}, {"redelivered", domainBit},
		{"exchange", domainShortStr}, {"routing-key", domainShortStr},
	}},
	{classBasic, 70}: {name: "Get", fields: []field{
		{"reserved-1", domainShort}, {"queue", domainShortStr}, {"no-ack", domainBit},
	}},
	{classBasic, 71}: {name: "Get-Ok", isResponse: true, fields: []field{
		{"delivery-tag", domainLongLong}, {"redelivered", domainBit},
		{"exchange", domainShortStr}, {"routing-key", domainShortStr}, {"message-count", domainLong},
	}},
	{classBasic, 72}: {name: "Get-Empty", isResponse: true, fields: []field{{"reserved-1", domainShortStr}}},
	{classBasic, 80}: {name: "Ack", fields: []field{{"delivery-tag", domainLongLong}, {"multiple", domainBit}}},
	{classBasic, 90}: {name: "Reject", fields: []field{{"delivery-tag", domainLongLong}, {"requeue", domainBit}}},
	{classBasic, 100}: {name: "Recover", fields: []field{{"requeue", domainBit}}},
	{classBasic, 101}: {name: "Recover-Ok", isResponse: true},
	{classBasic, 120}: {name: "Nack", fields: []field{
		{"delivery-tag", domainLongLong}, {"multiple", domainBit}, {"requeue", domainBit},
	}},

	// Confirm (85)
	{classConfirm, 10}: {name: "Select", fields: []field{{"no-wait", domainBit}}},
	{classConfirm, 11}: {name: "Select-Ok", isResponse: true},

	// Tx (90)
	{classTx, 10}: {name: "Select"},
	{classTx, 11}: {name: "Select-Ok", isResponse: true},
	{classTx, 20}: {name: "Commit"},
	{classTx, 21}: {name: "Commit-Ok", isResponse: true},
	{classTx, 30}: {name: "Rollback"},
	{classTx, 31}: {name: "Rollback-Ok", isResponse: true},
}

// lookupMethod resolves a wire (class, method) pair; UnknownMethod is a
// decode failure per spec §4.2.
func lookupMethod(classID, methodID uint16) (classMethod, methodSpec, error) {
	cm := classMethod{ClassID: classID, MethodID: methodID}
	spec, ok := methodSpecs[cm]
	if !ok {
		return cm, methodSpec{}, errUnknownMethod(classID, methodID)
	}
	return cm, spec, nil
}
