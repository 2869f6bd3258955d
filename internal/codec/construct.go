package codec

import (
	"context"
	"fmt"
	"math"

	"github.com/homenetio/bridge/internal/config"
)

// Construct builds an outbound frame from command's template and the
// value to encode into it.
// It starts from the command's template data and, when a value is
// given, overwrites the value_offset span with the encoded form of
// value. eval is only consulted when the schema declares a lambda and
// may be nil otherwise.
func Construct(ctx context.Context, eval Evaluator, command *config.CommandSchema, value any) ([]byte, error) {
	if command == nil {
		return nil, fmt.Errorf("codec: nil command schema")
	}
	out := make([]byte, len(command.Data))
	copy(out, command.Data)

	if value == nil {
		return out, nil
	}

	resolved := value
	if command.Lambda != "" {
		if eval == nil {
			return nil, fmt.Errorf("codec: command has lambda but no evaluator is wired")
		}
		v, err := eval.Evaluate(ctx, command.Lambda, Bindings{"value": value}, true)
		if err != nil {
			return nil, fmt.Errorf("codec: lambda evaluation failed: %w", err)
		}
		resolved = v
	}

	if len(command.Mapping) > 0 {
		key := fmt.Sprintf("%v", resolved)
		mapped, ok := command.Mapping[key]
		if !ok {
			return nil, fmt.Errorf("codec: no mapping entry for value %q", key)
		}
		resolved = mapped
	}

	if command.Precision > 0 {
		if f, ok := toFloat(resolved); ok {
			resolved = f * math.Pow10(command.Precision)
		}
	}

	length := command.Length
	if length == 0 {
		length = 1
	}
	offset := 0
	if command.ValueOffset != nil {
		offset = *command.ValueOffset
	}
	if offset < 0 || offset+length > len(out) {
		return nil, fmt.Errorf("codec: value span [%d:%d) out of bounds for template of length %d", offset, offset+length, len(out))
	}

	span, err := encodeSpan(command.Decode, command.Endian, command.Signed, length, resolved)
	if err != nil {
		return nil, err
	}
	copy(out[offset:offset+length], span)
	return out, nil
}

func encodeSpan(kind config.DecodeKind, endian config.Endian, signed bool, length int, value any) ([]byte, error) {
	switch kind {
	case config.DecodeASCII:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("codec: ascii encode requires a string value, got %T", value)
		}
		span := make([]byte, length)
		copy(span, s)
		return span, nil

	case config.DecodeSignedByteHalfDegree:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("codec: signed_byte_half_degree encode requires a numeric value, got %T", value)
		}
		return encodeSignedByteHalfDegree(f)

	case config.DecodeBCD:
		i, ok := toInt(value)
		if !ok {
			return nil, fmt.Errorf("codec: bcd encode requires an integer value, got %T", value)
		}
		return encodeBCD(i, length)

	default: // raw_uint, signed, and unset all share an integer encode path
		var u uint64
		if signed || kind == config.DecodeSigned {
			i, ok := toInt(value)
			if !ok {
				return nil, fmt.Errorf("codec: signed encode requires an integer value, got %T", value)
			}
			u = uint64(int64(i))
		} else {
			f, ok := toFloat(value)
			if !ok {
				return nil, fmt.Errorf("codec: raw_uint encode requires a numeric value, got %T", value)
			}
			u = uint64(int64(f))
		}
		return encodeUint(endian, length, u), nil
	}
}

// encodeSignedByteHalfDegree is the inverse of decodeSignedByteHalfDegree:
// the magnitude rounds to the nearest 0.5 step, split into a 6-bit
// integer part (bit 0x40 = negative, bit 0x80 = +0.5 step).
func encodeSignedByteHalfDegree(f float64) ([]byte, error) {
	neg := f < 0
	steps := int64(math.Round(math.Abs(f) * 2))
	whole := steps / 2
	if whole > 0x3F {
		return nil, fmt.Errorf("codec: signed_byte_half_degree value %v out of range", f)
	}
	b := byte(whole)
	if steps%2 != 0 {
		b |= 0x80
	}
	if neg {
		b |= 0x40
	}
	return []byte{b}, nil
}

func encodeUint(endian config.Endian, length int, u uint64) []byte {
	span := make([]byte, length)
	if endian == config.LittleEndian {
		for i := 0; i < length; i++ {
			span[i] = byte(u)
			u >>= 8
		}
	} else {
		for i := length - 1; i >= 0; i-- {
			span[i] = byte(u)
			u >>= 8
		}
	}
	return span
}

func encodeBCD(v int, length int) ([]byte, error) {
	span := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		digit := v % 100
		v /= 100
		hi, lo := digit/10, digit%10
		span[i] = byte(hi<<4 | lo)
	}
	if v != 0 {
		return nil, fmt.Errorf("codec: value too large for %d-byte BCD span", length)
	}
	return span, nil
}
