package feed

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Legacy charsets still seen in Russian-language feeds.
var charsets = map[string]encoding.Encoding{
	"windows-1251": charmap.Windows1251,
	"cp1251":       charmap.Windows1251,
	"cp-1251":      charmap.Windows1251,
	"koi8-r":       charmap.KOI8R,
	"iso-8859-5":   charmap.ISO8859_5,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
}

// CharsetReader converts a non-UTF-8 document to UTF-8. It is plugged into
// xml.Decoder and called for the charset named in the XML declaration.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, ok := charsets[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// decodeAs wraps r in a decoder for a charset forced by configuration.
// It returns nil when no conversion is needed.
func decodeAs(r io.Reader, label string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	return CharsetReader(label, r)
}

// The input has already been converted; the declaration is stale.
func passthroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}
