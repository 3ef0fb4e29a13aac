package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Value tags. Each encoded value is a tag byte followed by its payload.
const (
	tagNull byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
)

// ErrUnserializableValue is returned when encoding is asked to serialize
// something outside the closed value grammar: nil, bool, integer (any Go
// integer type, stored as int64), float32/float64, string, []byte, a slice
// of values, or a map[string]interface{}.
var ErrUnserializableValue = errors.New("wire: value is not in the serializable grammar")

// ValidateValue reports whether v belongs to the closed value grammar,
// without producing its encoding.
func ValidateValue(v interface{}) error {
	_, err := EncodeValue(nil, v)
	return err
}

// EncodeValue appends the encoding of v to dst and returns the result.
func EncodeValue(dst []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(dst, tagNull), nil
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		return append(dst, tagBool, b), nil
	case int:
		return encodeInt(dst, int64(x)), nil
	case int8:
		return encodeInt(dst, int64(x)), nil
	case int16:
		return encodeInt(dst, int64(x)), nil
	case int32:
		return encodeInt(dst, int64(x)), nil
	case int64:
		return encodeInt(dst, x), nil
	case uint:
		return encodeInt(dst, int64(x)), nil
	case uint8:
		return encodeInt(dst, int64(x)), nil
	case uint16:
		return encodeInt(dst, int64(x)), nil
	case uint32:
		return encodeInt(dst, int64(x)), nil
	case uint64:
		return encodeInt(dst, int64(x)), nil
	case float32:
		return encodeFloat(dst, float64(x)), nil
	case float64:
		return encodeFloat(dst, x), nil
	case string:
		return encodeString(dst, x)
	case []byte:
		return encodeBytes(dst, x)
	case []interface{}:
		return encodeList(dst, x)
	case map[string]interface{}:
		return encodeMap(dst, x)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnserializableValue, v)
	}
}

func encodeInt(dst []byte, n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return append(append(dst, tagInt), buf[:]...)
}

func encodeFloat(dst []byte, f float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	return append(append(dst, tagFloat), buf[:]...)
}

func encodeString(dst []byte, s string) ([]byte, error) {
	if len(s) > MaxFrameSize-2 {
		return nil, fmt.Errorf("%w: string too long", ErrUnserializableValue)
	}
	dst = append(dst, tagString)
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(len(s)))
	dst = append(dst, lbuf[:]...)
	return append(dst, s...), nil
}

func encodeBytes(dst []byte, b []byte) ([]byte, error) {
	if len(b) > MaxFrameSize-2 {
		return nil, fmt.Errorf("%w: byte sequence too long", ErrUnserializableValue)
	}
	dst = append(dst, tagBytes)
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(len(b)))
	dst = append(dst, lbuf[:]...)
	return append(dst, b...), nil
}

func encodeList(dst []byte, list []interface{}) ([]byte, error) {
	if len(list) > MaxFrameSize {
		return nil, fmt.Errorf("%w: list too long", ErrUnserializableValue)
	}
	dst = append(dst, tagList)
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(len(list)))
	dst = append(dst, lbuf[:]...)
	var err error
	for _, item := range list {
		dst, err = EncodeValue(dst, item)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func encodeMap(dst []byte, m map[string]interface{}) ([]byte, error) {
	if len(m) > MaxFrameSize {
		return nil, fmt.Errorf("%w: map too long", ErrUnserializableValue)
	}
	dst = append(dst, tagMap)
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(len(m)))
	dst = append(dst, lbuf[:]...)
	var err error
	for k, v := range m {
		dst, err = encodeString(dst, k)
		if err != nil {
			return nil, err
		}
		dst, err = EncodeValue(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// DecodeValue decodes one value starting at buf[0] and returns it along
// with the number of bytes consumed.
func DecodeValue(buf []byte) (interface{}, int, error) {
	if len(buf) < 1 {
		return nil, 0, malformed("empty value")
	}
	tag := buf[0]
	rest := buf[1:]

	switch tag {
	case tagNull:
		return nil, 1, nil

	case tagBool:
		if len(rest) < 1 {
			return nil, 0, malformed("truncated bool")
		}
		return rest[0] != 0, 2, nil

	case tagInt:
		if len(rest) < 8 {
			return nil, 0, malformed("truncated int")
		}
		return int64(binary.BigEndian.Uint64(rest[:8])), 9, nil

	case tagFloat:
		if len(rest) < 8 {
			return nil, 0, malformed("truncated float")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest[:8])), 9, nil

	case tagString:
		n, body, consumed, err := decodeLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		_ = n
		return string(body), 1 + consumed, nil

	case tagBytes:
		_, body, consumed, err := decodeLenPrefixed(rest)
		if err != nil {
			return nil, 0, err
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, 1 + consumed, nil

	case tagList:
		if len(rest) < 2 {
			return nil, 0, malformed("truncated list header")
		}
		count := int(binary.BigEndian.Uint16(rest[:2]))
		off := 2
		list := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			v, n, err := DecodeValue(rest[off:])
			if err != nil {
				return nil, 0, err
			}
			list = append(list, v)
			off += n
		}
		return list, 1 + off, nil

	case tagMap:
		if len(rest) < 2 {
			return nil, 0, malformed("truncated map header")
		}
		count := int(binary.BigEndian.Uint16(rest[:2]))
		off := 2
		m := make(map[string]interface{}, count)
		for i := 0; i < count; i++ {
			if off >= len(rest) {
				return nil, 0, malformed("truncated map entry")
			}
			keyTag := rest[off]
			if keyTag != tagString {
				return nil, 0, malformed("map key is not a string")
			}
			_, keyBody, keyConsumed, err := decodeLenPrefixed(rest[off+1:])
			if err != nil {
				return nil, 0, err
			}
			key := string(keyBody)
			off += 1 + keyConsumed
			v, n, err := DecodeValue(rest[off:])
			if err != nil {
				return nil, 0, err
			}
			m[key] = v
			off += n
		}
		return m, 1 + off, nil

	default:
		return nil, 0, malformed("unknown tag %d", tag)
	}
}

// decodeLenPrefixed reads a u16 length prefix followed by that many bytes
// from buf, returning the length, the body slice, and bytes consumed
// (length field + body).
func decodeLenPrefixed(buf []byte) (int, []byte, int, error) {
	if len(buf) < 2 {
		return 0, nil, 0, malformed("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+n {
		return 0, nil, 0, malformed("truncated length-prefixed body")
	}
	return n, buf[2 : 2+n], 2 + n, nil
}

// EncodeBody encodes a top-level key/value record (a request or response
// body) with ASCII string keys. Unlike a nested map Value, the body has
// no leading tag byte: the frame boundary itself marks where it starts.
func EncodeBody(m map[string]interface{}) ([]byte, error) {
	if len(m) > MaxFrameSize {
		return nil, fmt.Errorf("%w: record too long", ErrUnserializableValue)
	}
	var dst []byte
	var lbuf [2]byte
	binary.BigEndian.PutUint16(lbuf[:], uint16(len(m)))
	dst = append(dst, lbuf[:]...)
	var err error
	for k, v := range m {
		dst, err = encodeString(dst, k)
		if err != nil {
			return nil, err
		}
		dst, err = EncodeValue(dst, v)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// DecodeBody decodes a top-level key/value record, requiring the entire
// buffer to be consumed.
func DecodeBody(buf []byte) (map[string]interface{}, error) {
	if len(buf) < 2 {
		return nil, malformed("truncated record header")
	}
	count := int(binary.BigEndian.Uint16(buf[:2]))
	off := 2
	m := make(map[string]interface{}, count)
	for i := 0; i < count; i++ {
		if off >= len(buf) || buf[off] != tagString {
			return nil, malformed("record key is not a string")
		}
		_, keyBody, keyConsumed, err := decodeLenPrefixed(buf[off+1:])
		if err != nil {
			return nil, err
		}
		key := string(keyBody)
		off += 1 + keyConsumed
		v, n, err := DecodeValue(buf[off:])
		if err != nil {
			return nil, err
		}
		m[key] = v
		off += n
	}
	if off != len(buf) {
		return nil, malformed("trailing bytes after record")
	}
	return m, nil
}
