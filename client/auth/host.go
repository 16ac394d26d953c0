package auth

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrEmptyHost         = errors.New("host must not be empty")
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrInvalidPort       = errors.New("invalid port")
)

// Host identifies a server for connection pooling and auth caching.
// Two hosts are equal only if scheme, name and port all match.
type Host struct {
	Scheme string
	Name   string
	Port   int
}

func (h Host) String() string {
	return h.Scheme + "://" + net.JoinHostPort(h.Name, strconv.Itoa(h.Port))
}

// ParseHost accepts a bare hostname ("example.com"), a host and port
// ("example.com:8443") or an absolute URL ("https://example.com"). The
// scheme defaults to http and the port to the scheme's default.
func ParseHost(s string) (Host, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Host{}, ErrEmptyHost
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return Host{}, fmt.Errorf("parsing host: %w", err)
	}

	return HostOf(u)
}

// HostOf resolves the host identity of an absolute http or https URL.
func HostOf(u *url.URL) (Host, error) {
	if u == nil {
		return Host{}, ErrEmptyHost
	}

	scheme := strings.ToLower(u.Scheme)
	var defaultPort int
	switch scheme {
	case "http":
		defaultPort = 80
	case "https":
		defaultPort = 443
	default:
		return Host{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	name := strings.ToLower(u.Hostname())
	if name == "" {
		return Host{}, ErrEmptyHost
	}

	port := defaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Host{}, fmt.Errorf("%w: %q", ErrInvalidPort, p)
		}
		port = n
	}

	return Host{Scheme: scheme, Name: name, Port: port}, nil
}
