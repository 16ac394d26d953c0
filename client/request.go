package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"

	"golang.org/x/net/http/httpguts"

	"github.com/adamwoolhether/asynchttp/client/auth"
)

const (
	defaultTextContentType  = "text/plain; charset=utf-8"
	defaultBytesContentType = "application/octet-stream"
)

// Header is a single header field.
type Header struct {
	Name  string
	Value string
}

// Request describes one exchange: method, absolute target URL, ordered
// header fields and an optional body already encoded to bytes. It is
// immutable; accessors return copies. Each [Client.Execute] call sends it
// once.
type Request struct {
	method      string
	url         *url.URL
	host        auth.Host
	headers     []Header
	cookies     []*http.Cookie
	body        []byte
	contentType string
}

// NewRequest validates and builds a Request. A malformed, relative or
// non-http(s) URL, or an invalid header field, fails with ErrConfiguration.
// A text body that cannot be represented in the declared charset fails
// with ErrEncoding. An empty method means GET.
func NewRequest(method, rawURL string, opts ...RequestOption) (*Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			if errors.Is(err, ErrEncoding) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: applying request option: %w", ErrConfiguration, err)
		}
	}

	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, fmt.Errorf("%w: invalid method %q", ErrConfiguration, method)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url: %w", ErrConfiguration, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q must be absolute", ErrConfiguration, rawURL)
	}
	host, err := auth.HostOf(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	for _, h := range settings.headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrConfiguration, h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return nil, fmt.Errorf("%w: invalid value for header %q", ErrConfiguration, h.Name)
		}
	}

	r := &Request{
		method:  method,
		url:     u,
		host:    host,
		headers: settings.headers,
		cookies: settings.cookies,
	}

	switch {
	case settings.text != nil:
		r.contentType = defaultTextContentType
		if settings.contentType != nil {
			r.contentType = *settings.contentType
		}
		if r.body, err = encodeText(*settings.text, r.contentType); err != nil {
			return nil, err
		}
	case settings.raw != nil:
		r.contentType = defaultBytesContentType
		if settings.contentType != nil {
			r.contentType = *settings.contentType
		}
		r.body = settings.raw
	case settings.contentType != nil:
		r.contentType = *settings.contentType
	}

	if r.contentType != "" && !httpguts.ValidHeaderFieldValue(r.contentType) {
		return nil, fmt.Errorf("%w: invalid content type %q", ErrConfiguration, r.contentType)
	}

	return r, nil
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URL returns a copy of the target URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	if r.url.User != nil {
		user := *r.url.User
		u.User = &user
	}
	return &u
}

// Host returns the host identity the request is sent to.
func (r *Request) Host() auth.Host { return r.host }

// Headers returns a copy of the header fields in the order they were added.
func (r *Request) Headers() []Header { return slices.Clone(r.headers) }

// Body returns a copy of the encoded body, nil when there is none.
func (r *Request) Body() []byte { return bytes.Clone(r.body) }

// ContentType returns the body's Content-Type, empty when there is no body.
func (r *Request) ContentType() string { return r.contentType }

// httpRequest builds a fresh transport request. It is called once per
// attempt so a challenge round can resend the body.
func (r *Request) httpRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	for _, h := range r.headers {
		req.Header.Add(h.Name, h.Value)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}

	return req, nil
}
