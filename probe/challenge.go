package probe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var errMalformedChallenge = errors.New("malformed WWW-Authenticate challenge")

// Challenge is the first authentication challenge of a WWW-Authenticate
// header, e.g.
//
//	Bearer realm="mcp", resource_metadata="https://host/.well-known/oauth-protected-resource/mcp"
type Challenge struct {
	Scheme string            `json:"scheme"`
	Params map[string]string `json:"params,omitempty"`
}

// ParseChallenge parses the first challenge of a WWW-Authenticate value.
// Parameter names are lower-cased; quoted values are unescaped.
func ParseChallenge(header string) (*Challenge, error) {
	s := strings.TrimSpace(header)
	if s == "" {
		return nil, errMalformedChallenge
	}
	scheme, rest, _ := strings.Cut(s, " ")
	if scheme == "" || strings.ContainsAny(scheme, `=",`) {
		return nil, fmt.Errorf("%w: bad scheme in %q", errMalformedChallenge, header)
	}
	ch := &Challenge{Scheme: scheme, Params: map[string]string{}}

	rest = strings.TrimSpace(rest)
	for rest != "" {
		name, after, ok := strings.Cut(rest, "=")
		if !ok || after == "" || after[0] == '=' {
			// token68 form (e.g. "Basic abc=="); nothing more to extract.
			break
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || strings.ContainsAny(name, " \",") {
			// The next challenge has started.
			break
		}
		after = strings.TrimLeft(after, " ")

		var value string
		if strings.HasPrefix(after, `"`) {
			v, remaining, err := readQuoted(after[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errMalformedChallenge, err)
			}
			value, rest = v, remaining
		} else {
			v, remaining, _ := strings.Cut(after, ",")
			value, rest = strings.TrimSpace(v), remaining
		}
		ch.Params[name] = value

		rest = strings.TrimSpace(rest)
		rest = strings.TrimPrefix(rest, ",")
		rest = strings.TrimSpace(rest)
	}
	return ch, nil
}

// readQuoted reads a quoted-string body (opening quote already consumed) and
// returns the unescaped value plus the remainder after the closing quote.
func readQuoted(s string) (string, string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				i++
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New("unterminated quoted string")
}

// String renders the challenge with parameters in a stable order.
func (c *Challenge) String() string {
	if c == nil {
		return ""
	}
	if len(c.Params) == 0 {
		return c.Scheme
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	pieces := make([]string, 0, len(keys))
	for _, k := range keys {
		pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc.Replace(c.Params[k])))
	}
	return c.Scheme + " " + strings.Join(pieces, ", ")
}
