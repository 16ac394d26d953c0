package client

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// bodyCharset resolves the charset a text body is encoded in. Names are
// looked up in the IANA registry rather than through the browser aliases
// used for decoding responses, so iso-8859-1 is Latin-1 and us-ascii is
// seven-bit ASCII, never windows-1252.
func bodyCharset(contentType string) (encoding.Encoding, string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return unicode.UTF8, "UTF-8", nil
	}

	cs := strings.TrimSpace(params["charset"])
	if cs == "" {
		return unicode.UTF8, "UTF-8", nil
	}

	for _, index := range []*ianaindex.Index{ianaindex.MIME, ianaindex.IANA} {
		enc, err := index.Encoding(cs)
		if err != nil || enc == nil {
			continue
		}
		name, err := index.Name(enc)
		if err != nil {
			name = cs
		}
		return enc, name, nil
	}

	return nil, cs, fmt.Errorf("%w: unsupported charset %q", ErrEncoding, cs)
}

// encodeText converts text into the charset declared by contentType.
// Characters the charset cannot represent fail the request instead of
// being replaced.
func encodeText(text, contentType string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: body is not valid utf-8", ErrEncoding)
	}

	enc, name, err := bodyCharset(contentType)
	if err != nil {
		return nil, err
	}

	switch name {
	case "UTF-8":
		return []byte(text), nil
	case "US-ASCII":
		for i := range len(text) {
			if text[i] > 0x7f {
				return nil, fmt.Errorf("%w: charset %s: non-ascii byte at offset %d", ErrEncoding, name, i)
			}
		}
		return []byte(text), nil
	}

	b, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: charset %s: %w", ErrEncoding, name, err)
	}

	return b, nil
}
