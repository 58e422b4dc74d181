package amqp

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/trace"
)

// SASLMechanism produces the Start-Ok mechanism name and response bytes
// for one AMQP SASL exchange. Grounded on streadway/amqp's auth
// mechanisms (visible via chenggangschool-amqp's PlainAuth), generalized
// into an interface so EXTERNAL/ANONYMOUS/custom mechanisms plug in the
// same way.
type SASLMechanism interface {
	Mechanism() string
	Response() string
}

// PlainAuth implements SASL PLAIN: "\0login\0password".
type PlainAuth struct {
	Username string
	Password string
}

func (a PlainAuth) Mechanism() string { return "PLAIN" }
func (a PlainAuth) Response() string {
	return "\x00" + a.Username + "\x00" + a.Password
}

// AMQPPlainAuth implements RabbitMQ's AMQPLAIN mechanism: the response is
// a field-table body (no outer length, since the longstr framing already
// carries the total length) with LOGIN/PASSWORD longstr entries.
type AMQPPlainAuth struct {
	Username string
	Password string
}

func (a AMQPPlainAuth) Mechanism() string { return "AMQPLAIN" }
func (a AMQPPlainAuth) Response() string {
	w := &byteWriter{}
	_ = w.writeShortStr("LOGIN")
	_ = w.writeFieldValue(a.Username)
	_ = w.writeShortStr("PASSWORD")
	_ = w.writeFieldValue(a.Password)
	return string(w.buf)
}

// ExternalAuth implements SASL EXTERNAL, used when the TLS client
// certificate itself carries the identity.
type ExternalAuth struct{}

func (ExternalAuth) Mechanism() string { return "EXTERNAL" }
func (ExternalAuth) Response() string  { return "\x00" }

// AnonymousAuth implements SASL ANONYMOUS.
type AnonymousAuth struct{}

func (AnonymousAuth) Mechanism() string { return "ANONYMOUS" }
func (AnonymousAuth) Response() string  { return "\x00" }

// ReconnectOptions configures the Reconnection Supervisor (spec.md §4.7).
type ReconnectOptions struct {
	Enabled        bool
	Strategy       string // "linear" or "exponential"
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int // 0 means unlimited
}

// ConnectionOptions is the fully-resolved configuration for a Dial call,
// assembled from the URL first, then a profile, then explicit per-call
// Options (spec.md §6 precedence: URL < profile < user).
type ConnectionOptions struct {
	Host     string
	Port     string
	Vhost    string
	TLS      bool
	TLSConfig *tls.Config

	SASL SASLMechanism

	DialTimeout time.Duration
	Heartbeat   time.Duration
	ChannelMax  uint16
	FrameMax    uint32
	Locale      string

	HeartbeatForceReconnect bool

	Reconnect ReconnectOptions

	Properties map[string]any

	tracer trace.Tracer
}

func (o ConnectionOptions) HostPort() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// clientProperties builds the Start-Ok client-properties table: the
// identifying fields every AMQP client advertises, overlaid with the
// Properties map copied verbatim. Values are not coerced, so each must
// already be a type writeFieldValue accepts.
func (o ConnectionOptions) clientProperties() Table {
	t := Table{
		"product":  "amqpcore",
		"platform": "Go",
		"capabilities": Table{
			"connection.blocked":     true,
			"consumer_cancel_notify": true,
		},
	}
	for k, v := range o.Properties {
		t[k] = v
	}
	return t
}

// Option customizes ConnectionOptions after URL parsing; Dial applies
// them in order, so later Options win (the "user" tier of spec.md §6's
// precedence chain).
type Option func(*ConnectionOptions)

func WithSASL(m SASLMechanism) Option { return func(o *ConnectionOptions) { o.SASL = m } }

func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *ConnectionOptions) { o.TLSConfig = cfg }
}

func WithHeartbeat(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.Heartbeat = d }
}

func WithHeartbeatForceReconnect(v bool) Option {
	return func(o *ConnectionOptions) { o.HeartbeatForceReconnect = v }
}

func WithChannelMax(n uint16) Option { return func(o *ConnectionOptions) { o.ChannelMax = n } }

func WithFrameMax(n uint32) Option { return func(o *ConnectionOptions) { o.FrameMax = n } }

func WithDialTimeout(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.DialTimeout = d }
}

func WithReconnect(r ReconnectOptions) Option {
	return func(o *ConnectionOptions) { o.Reconnect = r }
}

// WithProfile overlays a loosely-typed profile map onto the options,
// using mapstructure the way the teacher decodes processor configs
// (processor/roundtripstometrics/config.go) — handy for options sourced
// from a config file or environment rather than written as Go literals.
func WithProfile(profile map[string]any) Option {
	return func(o *ConnectionOptions) {
		var overlay struct {
			Heartbeat   string
			ChannelMax  uint16
			FrameMax    uint32
			DialTimeout string
		}
		if err := mapstructure.Decode(profile, &overlay); err != nil {
			return
		}
		if overlay.Heartbeat != "" {
			if d, err := time.ParseDuration(overlay.Heartbeat); err == nil {
				o.Heartbeat = d
			}
		}
		if overlay.ChannelMax != 0 {
			o.ChannelMax = overlay.ChannelMax
		}
		if overlay.FrameMax != 0 {
			o.FrameMax = overlay.FrameMax
		}
		if overlay.DialTimeout != "" {
			if d, err := time.ParseDuration(overlay.DialTimeout); err == nil {
				o.DialTimeout = d
			}
		}
		if v, ok := profile["properties"]; ok {
			if m, castErr := cast.ToStringMapE(v); castErr == nil {
				if o.Properties == nil {
					o.Properties = map[string]any{}
				}
				for k, val := range m {
					o.Properties[k] = val
				}
			}
		}
	}
}

func newConnectionOptions(rawurl string, opt ...Option) (ConnectionOptions, error) {
	p, err := parseURI(rawurl)
	if err != nil {
		return ConnectionOptions{}, err
	}
	opts := ConnectionOptions{
		Host:        p.host,
		Port:        p.port,
		Vhost:       p.vhost,
		TLS:         p.tls,
		SASL:        AMQPPlainAuth{Username: p.username, Password: p.password},
		DialTimeout: 10 * time.Second,
		Heartbeat:   60 * time.Second,
		ChannelMax:  defaultChannelMax,
		FrameMax:    131072,
		Locale:      "en_US",
	}
	if opts.Host == "" {
		return ConnectionOptions{}, errInvalidURI("missing host")
	}
	for _, fn := range opt {
		fn(&opts)
	}
	if opts.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{ServerName: opts.Host}
	}
	return opts, nil
}
