package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// MarshalNoEscape encodes v into JSON without HTML-escaping <, >, and &.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalFlex tries to unmarshal JSON bytes into v with best effort:
// direct unmarshal first, then a normalization pass that unwraps quoted
// payloads and repairs double-escaped unicode sequences.
func UnmarshalFlex(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	norm, err := Normalize(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(norm, v)
}

// Normalize parses JSON bytes and recursively unescapes any remaining
// double-escaped unicode sequences (e.g. "\\u003e") inside string values.
// A payload that is itself a JSON-encoded string is unwrapped up to twice.
func Normalize(raw []byte) ([]byte, error) {
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		return nil, errors.New("jsonutil: cannot parse JSON payload")
	}
	for i := 0; i < 2; i++ {
		s, ok := anyVal.(string)
		if !ok {
			break
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			break
		}
		anyVal = inner
	}
	return MarshalNoEscape(deepUnescape(anyVal))
}

var unicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)

// unescapeUnicode converts unicode escape sequences that survived decoding
// (a double-escaped payload leaves them in string values) into characters.
func unescapeUnicode(s string) string {
	if !strings.Contains(s, `\u`) {
		return s
	}
	return unicodeEscape.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(n))
	})
}

func deepUnescape(v any) any {
	switch x := v.(type) {
	case string:
		return unescapeUnicode(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = deepUnescape(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = deepUnescape(vv)
		}
		return out
	default:
		return v
	}
}
