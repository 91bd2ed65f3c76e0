package locator

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// Mimetypes understood by the bundled parsers
const (
	MimeJSON   = "application/json"
	MimeYAML   = "application/yaml"
	MimePickle = "application/pickle" // binary object encoding, see parser.Gob
	MimeCBOR   = "application/cbor"
	MimeTOML   = "application/toml"
	MimeCUE    = "application/cue"
	MimeBinary = "application/octet-stream"
	MimeText   = "text/plain"
)

// extraTypes extends the standard extension table. The entries are applied on
// top of whatever the system mime.types files provide so ".yaml" always maps
// to MimeYAML regardless of the host distribution.
var extraTypes = map[string]string{
	".json": MimeJSON,
	".yaml": MimeYAML,
	".yml":  MimeYAML,
	".pkl":  MimePickle,
	".gob":  MimePickle,
	".cbor": MimeCBOR,
	".toml": MimeTOML,
	".cue":  MimeCUE,
}

func init() {
	for ext, typ := range extraTypes {
		if err := mime.AddExtensionType(ext, typ); err != nil {
			panic(fmt.Sprintf("locator: registering %s: %v", ext, err))
		}
	}
}

// TypeByExtension returns the mimetype registered for the extension of p,
// without media type parameters. It returns "" when nothing matches.
func TypeByExtension(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return ""
	}
	return stripParams(mime.TypeByExtension(ext))
}

// stripParams drops parameters such as "; charset=utf-8".
func stripParams(typ string) string {
	if typ == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(typ)
	if err != nil {
		mediaType, _, _ = strings.Cut(typ, ";")
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mediaType
}
