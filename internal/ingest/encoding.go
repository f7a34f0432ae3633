package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

var errInvalidUTF8 = errors.New("invalid utf-8 byte sequence")

// textEncoding is one entry of the ordered decode candidate list.
type textEncoding struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

func lookupEncoding(name string) (textEncoding, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "utf-8", "utf8":
		return textEncoding{name: name, enc: unicode.UTF8, utf8: true}, nil
	case "utf-8-sig", "utf8-sig", "utf-8-bom":
		return textEncoding{name: name, enc: unicode.UTF8BOM, utf8: true}, nil
	case "cp949", "euc-kr", "euckr", "ks_c_5601-1987", "windows-949":
		return textEncoding{name: name, enc: korean.EUCKR}, nil
	}
	enc, err := htmlindex.Get(key)
	if err != nil {
		return textEncoding{}, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return textEncoding{name: name, enc: enc}, nil
}

func lookupEncodings(names []string) ([]textEncoding, error) {
	out := make([]textEncoding, 0, len(names))
	for _, name := range names {
		te, err := lookupEncoding(name)
		if err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	return out, nil
}

// decode is strict: x/text decoders substitute U+FFFD for bad input instead of
// failing, so a replacement rune in the output counts as a decode failure.
func (te textEncoding) decode(data []byte) (string, error) {
	if te.utf8 && !utf8.Valid(data) {
		return "", errInvalidUTF8
	}
	out, err := te.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	if !te.utf8 && bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("%s: undecodable byte sequence", te.name)
	}
	return string(out), nil
}

// decodeFirst returns the text of the first candidate that both decodes and
// passes wellFormed. When some candidate decoded but none produced a
// well-formed table the error wraps ErrMalformedTable; otherwise it is an
// EncodingError.
func decodeFirst(source string, data []byte, candidates []textEncoding, wellFormed func(string) error) (string, string, error) {
	tried := make([]string, 0, len(candidates))
	var last, malformed error
	for _, te := range candidates {
		text, err := te.decode(data)
		if err == nil && wellFormed != nil {
			if err = wellFormed(text); err != nil {
				malformed = err
			}
		}
		if err == nil {
			return text, te.name, nil
		}
		tried = append(tried, te.name)
		last = err
	}
	if malformed != nil {
		return "", "", fmt.Errorf("%s: %w: %v", source, ErrMalformedTable, malformed)
	}
	return "", "", &EncodingError{Source: source, Tried: tried, Last: last}
}
