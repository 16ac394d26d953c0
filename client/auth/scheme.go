package auth

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrNoCredentials        = errors.New("no credentials configured")
	ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")
	ErrUnsupportedQOP       = errors.New("unsupported digest qop")
)

// Credentials is the username and password presented to any host that
// challenges or is configured for preemptive authentication.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials were supplied.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// Scheme is an authentication scheme that can be presented preemptively.
type Scheme interface {
	// Name returns the scheme token as it appears in the Authorization header.
	Name() string
	// Authorize sets the Authorization header on req.
	Authorize(req *http.Request, creds Credentials) error
}

var (
	// None disables preemptive authentication for a host.
	None Scheme = none{}
	// Basic presents HTTP Basic credentials.
	Basic Scheme = basic{}
)

type none struct{}

func (none) Name() string { return "None" }

func (none) Authorize(*http.Request, Credentials) error { return nil }

type basic struct{}

func (basic) Name() string { return "Basic" }

func (basic) Authorize(req *http.Request, creds Credentials) error {
	if creds.IsZero() {
		return ErrNoCredentials
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	return nil
}

// Digest presents HTTP Digest credentials computed from a server nonce.
// A Digest built from realm and nonce alone produces the RFC 2069 style
// response; one parsed from a challenge offering qop=auth adds nc/cnonce.
//
// The nonce count is shared by every request using the same Digest value.
type Digest struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	QOP       string

	nc     atomic.Uint32
	cnonce func() string
}

// NewDigest returns a Digest scheme for the given realm and nonce.
func NewDigest(realm, nonce string) *Digest {
	return &Digest{Realm: realm, Nonce: nonce}
}

func (d *Digest) Name() string { return "Digest" }

func (d *Digest) Authorize(req *http.Request, creds Credentials) error {
	if creds.IsZero() {
		return ErrNoCredentials
	}

	newHash, sess, err := digestAlgorithm(d.Algorithm)
	if err != nil {
		return err
	}

	qop, err := d.selectQOP()
	if err != nil {
		return err
	}

	h := func(s string) string {
		hh := newHash()
		hh.Write([]byte(s))
		return hex.EncodeToString(hh.Sum(nil))
	}

	uri := req.URL.RequestURI()

	var cnonce, nc string
	if qop != "" || sess {
		cnonce = d.newCnonce()
	}
	if qop != "" {
		nc = fmt.Sprintf("%08x", d.nc.Add(1))
	}

	ha1 := h(creds.Username + ":" + d.Realm + ":" + creds.Password)
	if sess {
		ha1 = h(ha1 + ":" + d.Nonce + ":" + cnonce)
	}
	ha2 := h(req.Method + ":" + uri)

	var response string
	if qop != "" {
		response = h(strings.Join([]string{ha1, d.Nonce, nc, cnonce, qop, ha2}, ":"))
	} else {
		response = h(ha1 + ":" + d.Nonce + ":" + ha2)
	}

	var b strings.Builder
	b.WriteString("Digest ")
	writeParam(&b, "username", creds.Username, true)
	writeParam(&b, "realm", d.Realm, true)
	writeParam(&b, "nonce", d.Nonce, true)
	writeParam(&b, "uri", uri, true)
	writeParam(&b, "response", response, true)
	if d.Algorithm != "" {
		writeParam(&b, "algorithm", d.Algorithm, false)
	}
	if qop != "" {
		writeParam(&b, "qop", qop, false)
		writeParam(&b, "nc", nc, false)
		writeParam(&b, "cnonce", cnonce, true)
	} else if sess {
		writeParam(&b, "cnonce", cnonce, true)
	}
	if d.Opaque != "" {
		writeParam(&b, "opaque", d.Opaque, true)
	}

	req.Header.Set("Authorization", b.String())

	return nil
}

func (d *Digest) selectQOP() (string, error) {
	if d.QOP == "" {
		return "", nil
	}
	for opt := range strings.SplitSeq(d.QOP, ",") {
		if strings.EqualFold(strings.TrimSpace(opt), "auth") {
			return "auth", nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedQOP, d.QOP)
}

func (d *Digest) newCnonce() string {
	if d.cnonce != nil {
		return d.cnonce()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func digestAlgorithm(name string) (func() hash.Hash, bool, error) {
	switch strings.ToUpper(name) {
	case "", "MD5":
		return md5.New, false, nil
	case "MD5-SESS":
		return md5.New, true, nil
	case "SHA-256":
		return sha256.New, false, nil
	case "SHA-256-SESS":
		return sha256.New, true, nil
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

func writeParam(b *strings.Builder, key, value string, quoted bool) {
	if !strings.HasSuffix(b.String(), " ") {
		b.WriteString(", ")
	}
	b.WriteString(key)
	b.WriteByte('=')
	if !quoted {
		b.WriteString(value)
		return
	}
	b.WriteByte('"')
	b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value))
	b.WriteByte('"')
}
