package stream

import (
	"mime"
	"strings"

	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

const defaultCharset = "utf-8"

// LookupCharset resolves the charset parameter of a response Content-Type
// the way browsers do, so iso-8859-1 and us-ascii decode as windows-1252.
// A missing or unparsable parameter resolves to UTF-8. When the declared
// charset is unknown, UTF-8 is returned along with ok == false.
func LookupCharset(contentType string) (enc encoding.Encoding, name string, ok bool) {
	if contentType == "" {
		return unicode.UTF8, defaultCharset, true
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return unicode.UTF8, defaultCharset, true
	}

	cs, found := params["charset"]
	if !found {
		return unicode.UTF8, defaultCharset, true
	}

	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs == "utf-8" || cs == "utf8" {
		return unicode.UTF8, defaultCharset, true
	}

	if e, canonical := htmlcharset.Lookup(cs); e != nil {
		return e, canonical, true
	}

	if e, err := ianaindex.MIME.Encoding(cs); err == nil && e != nil {
		return e, cs, true
	}

	return unicode.UTF8, cs, false
}
