package bundle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/magiconair/properties"
)

var (
	ErrMalformedBundle     = errors.New("malformed bundle")
	ErrUnsupportedEncoding = errors.New("unsupported bundle encoding")
)

// Encoding names the character encoding of bundle text held in the store.
type Encoding string

const (
	UTF8      Encoding = "UTF-8"
	ISO8859_1 Encoding = "ISO-8859-1" //nolint:revive,stylecheck // mirrors the charset name
)

// ParseEncoding accepts the usual spellings of the two supported charsets.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "UTF-8", "UTF8":
		return UTF8, nil
	case "ISO-8859-1", "ISO8859-1", "LATIN1", "LATIN-1":
		return ISO8859_1, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
}

func (e Encoding) properties() properties.Encoding {
	if e == ISO8859_1 {
		return properties.ISO_8859_1
	}
	return properties.UTF8
}

// Parse reads line-oriented key=value text. Property expansion is disabled so
// that templates containing "${...}" are kept verbatim.
func Parse(raw string, enc Encoding) (map[string]string, error) {
	loader := &properties.Loader{
		Encoding:         enc.properties(),
		DisableExpansion: true,
	}

	props, err := loader.LoadBytes([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBundle, err)
	}

	return props.Map(), nil
}
