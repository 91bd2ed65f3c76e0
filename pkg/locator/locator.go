package locator

import (
	"net/url"
	"strings"
)

// DefaultScheme is used when the raw URL carries no scheme
const DefaultScheme = "file"

// Locator is the parsed form of a resource address. It is a value type and
// none of its accessors allow mutation after Parse returns.
type Locator struct {
	rawURL   string
	scheme   string
	user     string
	host     string
	path     string
	opaque   string
	query    url.Values
	mimetype string
}

// Parse builds a Locator from rawURL. A non-empty mimetypeOverride takes
// precedence over the type guessed from the path extension. Parse never fails:
// anything url.Parse rejects is treated as a local path.
func Parse(rawURL, mimetypeOverride string) Locator {
	loc := Locator{rawURL: rawURL}

	switch {
	case hasSchemePrefix(rawURL, "data:"):
		loc.scheme = "data"
		loc.opaque = rawURL[len("data:"):]
	default:
		u, err := url.Parse(rawURL)
		if err != nil || isDriveLetter(u.Scheme) {
			loc.scheme = DefaultScheme
			loc.path = rawURL
			break
		}
		loc.scheme = strings.ToLower(u.Scheme)
		if loc.scheme == "" {
			loc.scheme = DefaultScheme
		}
		if u.User != nil {
			loc.user = u.User.String()
		}
		loc.host = u.Host
		loc.path = u.EscapedPath()
		if u.Scheme == "" && u.Host == "" {
			loc.path = barePath(rawURL)
		}
		loc.opaque = u.Opaque
		loc.query = u.Query()
	}

	switch {
	case mimetypeOverride != "":
		loc.mimetype = stripParams(mimetypeOverride)
	case loc.scheme == "data":
		loc.mimetype = dataMediaType(loc.opaque)
	default:
		loc.mimetype = TypeByExtension(loc.path)
		if loc.mimetype == "" {
			// oci://reg/repo:tag?file=app.json names the file in the query
			loc.mimetype = TypeByExtension(loc.query.Get("file"))
		}
	}

	return loc
}

// RawURL returns the string Parse was called with
func (l Locator) RawURL() string { return l.rawURL }

// Scheme returns the lower-cased URL scheme, "file" when none was given
func (l Locator) Scheme() string { return l.scheme }

// User returns the userinfo of the URL ("git" or "user:token"), if any
func (l Locator) User() string { return l.user }

// Host returns the host and port of the URL, if any
func (l Locator) Host() string { return l.host }

// Path returns the path component verbatim, percent-encoding included
func (l Locator) Path() string { return l.path }

// DecodedPath returns Path with percent-encoding removed, or Path itself
// when it is not validly encoded
func (l Locator) DecodedPath() string {
	decoded, err := url.PathUnescape(l.path)
	if err != nil {
		return l.path
	}
	return decoded
}

// HasScheme reports whether the raw URL named its scheme explicitly
func (l Locator) HasScheme() bool {
	return hasSchemePrefix(l.rawURL, l.scheme+":")
}

// Opaque returns the opaque part of URLs such as "data:" URLs
func (l Locator) Opaque() string { return l.opaque }

// Mimetype returns the resolved mimetype, "" when unknown
func (l Locator) Mimetype() string { return l.mimetype }

// Query returns a copy of the parsed query parameters.
func (l Locator) Query() url.Values {
	out := make(url.Values, len(l.query))
	for k, v := range l.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// String implements fmt.Stringer
func (l Locator) String() string { return l.rawURL }

func hasSchemePrefix(raw, prefix string) bool {
	return len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix)
}

// barePath returns a scheme-less raw URL up to its query or fragment, as
// written
func barePath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// isDriveLetter reports whether url.Parse mistook a Windows drive ("C:") for
// a scheme.
func isDriveLetter(scheme string) bool {
	return len(scheme) == 1
}

// dataMediaType extracts the media type of an RFC 2397 data URL payload
// ("application/json;base64,...").
func dataMediaType(opaque string) string {
	header, _, ok := strings.Cut(opaque, ",")
	if !ok {
		return ""
	}
	header = strings.TrimSuffix(header, ";base64")
	if header == "" || strings.HasPrefix(header, ";") {
		return MimeText
	}
	return stripParams(header)
}
