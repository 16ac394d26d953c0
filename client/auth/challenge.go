package auth

import (
	"net/http"
	"strings"
)

// ParseChallenge picks a scheme from the WWW-Authenticate headers of a 401
// response. Digest is preferred over Basic; other schemes are ignored.
func ParseChallenge(h http.Header) (Scheme, bool) {
	var found Scheme
	for _, v := range h.Values("WWW-Authenticate") {
		name, params := parseChallenge(v)
		switch strings.ToLower(name) {
		case "digest":
			if params["nonce"] == "" {
				continue
			}
			return &Digest{
				Realm:     params["realm"],
				Nonce:     params["nonce"],
				Opaque:    params["opaque"],
				Algorithm: params["algorithm"],
				QOP:       params["qop"],
			}, true
		case "basic":
			found = Basic
		}
	}

	return found, found != nil
}

// parseChallenge splits `Scheme k1=v1, k2="v 2"` into the scheme token and
// its parameters. Parameter names are lower-cased.
func parseChallenge(s string) (string, map[string]string) {
	s = strings.TrimSpace(s)
	name, rest, _ := strings.Cut(s, " ")
	params := make(map[string]string)

	for rest = strings.TrimSpace(rest); rest != ""; rest = strings.TrimLeft(rest, ", ") {
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			break
		}
		key = strings.ToLower(strings.TrimSpace(key))
		after = strings.TrimLeft(after, " ")

		var val string
		if strings.HasPrefix(after, `"`) {
			val, rest = readQuoted(after[1:])
		} else {
			end := strings.IndexByte(after, ',')
			if end < 0 {
				end = len(after)
			}
			val, rest = strings.TrimSpace(after[:end]), after[end:]
		}
		params[key] = val
	}

	return name, params
}

// readQuoted reads a quoted-string body up to the closing quote, honouring
// backslash escapes, and returns the value and the remaining input.
func readQuoted(s string) (string, string) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i+1:]
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), ""
}
