package amqp

import (
	"net"
	"net/url"
	"strings"
)

// parsedURI is the URL-derived half of ConnectionOptions, split out so
// options.go can apply it first and let profile/user Option values
// override it (spec.md §6's URL < profile < user precedence).
type parsedURI struct {
	tls      bool
	host     string
	port     string
	username string
	password string
	vhost    string
}

// parseURI parses an amqp:// or amqps:// connection string, following the
// same hand-rolled net/url approach every other_examples/ AMQP client uses
// (dihedron-rabbit, lifeibo-amqp, chenggangschool-amqp) rather than a
// bespoke parser — there is no third-party URI library anywhere in the
// pack for this scheme.
func parseURI(raw string) (parsedURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURI{}, errInvalidURI("parse %q: %v", raw, err)
	}

	var p parsedURI
	switch u.Scheme {
	case "amqp":
		p.tls = false
	case "amqps":
		p.tls = true
	default:
		return parsedURI{}, errInvalidURI("unsupported scheme %q (want amqp or amqps)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return parsedURI{}, errInvalidURI("missing host in %q", raw)
	}
	p.host = host

	p.port = u.Port()
	if p.port == "" {
		if p.tls {
			p.port = "5671"
		} else {
			p.port = "5672"
		}
	}

	if u.User != nil {
		// net/url's Username()/Password() percent-decode the userinfo
		// component; spec.md §8 scenario 3 requires the raw, still-encoded
		// literal (e.g. "s%40cret" must stay "s%40cret", not become
		// "s@cret"), so the userinfo substring is pulled straight out of
		// raw instead of through u.User.
		if username, password, ok := rawUserinfo(raw); ok {
			p.username = username
			p.password = password
		}
	}

	vhost := strings.TrimPrefix(u.Path, "/")
	if vhost == "" {
		vhost = "/"
	} else {
		if decoded, err := url.PathUnescape(vhost); err == nil {
			vhost = decoded
		}
	}
	p.vhost = vhost

	return p, nil
}

// hostPort joins host and port the way net.Dial expects, accounting for a
// bracketed IPv6 literal.
func (p parsedURI) hostPort() string {
	return net.JoinHostPort(p.host, p.port)
}

// rawUserinfo extracts the username/password substrings verbatim (still
// percent-encoded) from between "://" and the authority's last "@", since
// url.Userinfo's accessors decode them.
func rawUserinfo(raw string) (username, password string, ok bool) {
	idx := strings.Index(raw, "://")
	if idx == -1 {
		return "", "", false
	}
	rest := raw[idx+len("://"):]
	authority := rest
	if slash := strings.IndexByte(rest, '/'); slash != -1 {
		authority = rest[:slash]
	}
	at := strings.LastIndexByte(authority, '@')
	if at == -1 {
		return "", "", false
	}
	userinfo := authority[:at]
	if colon := strings.IndexByte(userinfo, ':'); colon != -1 {
		return userinfo[:colon], userinfo[colon+1:], true
	}
	return userinfo, "", true
}
