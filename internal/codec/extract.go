package codec

import (
	"fmt"
	"math"
	"strings"

	"github.com/homenetio/bridge/internal/config"
)

// Extract decodes the value schema describes out of packet, applying
// its mask, decode kind, precision, and mapping in order.
// It reads the schema's byte span and decodes it per schema.Decode; the
// caller is responsible for calling Matches first if extraction should
// be gated on a match.
func Extract(schema *config.StateSchema, packet []byte, baseOffset int) (any, error) {
	if schema == nil {
		return nil, fmt.Errorf("codec: nil schema")
	}
	offset := effectiveOffset(schema, baseOffset)
	length := 1
	if schema.Length != nil {
		length = *schema.Length
	} else if len(schema.Data) > 0 {
		length = len(schema.Data)
	}
	if offset < 0 || offset+length > len(packet) {
		return nil, fmt.Errorf("codec: span [%d:%d) out of bounds for packet of length %d", offset, offset+length, len(packet))
	}
	span := maskedSpan(packet[offset:offset+length], schema.Mask)

	raw, err := decodeSpan(schema.Decode, schema.Endian, schema.Signed, span)
	if err != nil {
		return nil, err
	}

	if schema.Precision > 0 {
		if f, ok := toFloat(raw); ok {
			raw = f / math.Pow10(schema.Precision)
		}
	}

	if len(schema.Mapping) > 0 {
		if i, ok := toInt(raw); ok {
			if mapped, found := schema.Mapping[i]; found {
				return mapped, nil
			}
			return nil, fmt.Errorf("codec: no mapping entry for decoded value %d", i)
		}
	}

	return raw, nil
}

// maskedSpan applies a schema's mask to a copy of span
// before decoding, so a sub-schema that targets one nibble of a shared
// byte decodes only that nibble's bits.
func maskedSpan(span []byte, mask []byte) []byte {
	if len(mask) == 0 {
		return span
	}
	out := make([]byte, len(span))
	for i, b := range span {
		out[i] = b & maskAt(mask, i)
	}
	return out
}

// decodeSpan applies one DecodeKind to a byte span.
func decodeSpan(kind config.DecodeKind, endian config.Endian, signed bool, span []byte) (any, error) {
	switch kind {
	case "", config.DecodeRawUint:
		u := decodeUint(endian, span)
		if signed {
			return uintToSigned(u, len(span)), nil
		}
		return u, nil

	case config.DecodeSigned:
		u := decodeUint(endian, span)
		return uintToSigned(u, len(span)), nil

	case config.DecodeBCD:
		return decodeBCD(span)

	case config.DecodeASCII:
		return strings.TrimRight(string(span), "\x00"), nil

	case config.DecodeSignedByteHalfDegree:
		if len(span) != 1 {
			return nil, fmt.Errorf("codec: signed_byte_half_degree requires a 1-byte span, got %d", len(span))
		}
		return decodeSignedByteHalfDegree(span[0]), nil

	default:
		return nil, fmt.Errorf("codec: unknown decode kind %q", kind)
	}
}

// decodeSignedByteHalfDegree reads the half-degree bit-field encoding:
// bit 0x80 adds a +0.5 step, bit 0x40 marks the value negative, and the
// low 6 bits hold the integer part — not a plain two's-complement byte.
func decodeSignedByteHalfDegree(b byte) float64 {
	v := float64(b & 0x3F)
	if b&0x80 != 0 {
		v += 0.5
	}
	if b&0x40 != 0 {
		v = -v
	}
	return v
}

func decodeUint(endian config.Endian, span []byte) uint64 {
	var u uint64
	if endian == config.LittleEndian {
		for i := len(span) - 1; i >= 0; i-- {
			u = u<<8 | uint64(span[i])
		}
	} else {
		for _, b := range span {
			u = u<<8 | uint64(b)
		}
	}
	return u
}

func uintToSigned(u uint64, width int) int64 {
	bits := uint(width * 8)
	if bits == 0 || bits >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u) - int64(1<<bits)
	}
	return int64(u)
}

// decodeBCD reads packed binary-coded-decimal: each nibble is a decimal
// digit, most-significant nibble first within each byte.
func decodeBCD(span []byte) (int64, error) {
	var v int64
	for _, b := range span {
		hi, lo := b>>4, b&0x0F
		if hi > 9 || lo > 9 {
			return 0, fmt.Errorf("codec: invalid BCD byte 0x%02X", b)
		}
		v = v*100 + int64(hi)*10 + int64(lo)
	}
	return v, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case uint64:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case uint64:
		return int(x), true
	case int64:
		return int(x), true
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}
