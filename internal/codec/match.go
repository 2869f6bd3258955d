package codec

import (
	"context"

	"github.com/homenetio/bridge/internal/config"
)

// Matches reports whether packet satisfies schema at baseOffset: offset
// resolution, masked data comparison, guard evaluation, and except
// suppression, in that order. eval may be nil when schema carries no guard.
func Matches(ctx context.Context, eval Evaluator, schema *config.StateSchema, packet []byte, baseOffset int, extra Bindings) bool {
	if schema == nil {
		return false
	}
	result := rawMatch(schema, packet, baseOffset)

	if schema.Inverted {
		result = !result
	}

	if result && schema.Guard != "" {
		if eval == nil {
			return false
		}
		bindings := Bindings{"data": packet}
		for k, v := range extra {
			bindings[k] = v
		}
		val, err := eval.Evaluate(ctx, schema.Guard, bindings, true)
		if err != nil || !truthy(val) {
			return false
		}
	}

	if result {
		for _, ex := range schema.Except {
			if Matches(ctx, eval, ex, packet, baseOffset, extra) {
				return false
			}
		}
	}

	return result
}

// rawMatch resolves the offset and compares the literal/masked data,
// before guard/except/inverted are applied.
func rawMatch(schema *config.StateSchema, packet []byte, baseOffset int) bool {
	offset := effectiveOffset(schema, baseOffset)

	if len(schema.Data) == 0 {
		return schema.AllowEmptyData
	}
	if offset < 0 || offset+len(schema.Data) > len(packet) {
		return false
	}
	for i, want := range schema.Data {
		mask := maskAt(schema.Mask, i)
		if packet[offset+i]&mask != want&mask {
			return false
		}
	}
	return true
}

func effectiveOffset(schema *config.StateSchema, baseOffset int) int {
	off := 0
	if schema.Offset != nil {
		off = *schema.Offset
	}
	return off + baseOffset
}

// maskAt resolves the per-index mask: a per-index entry if the mask
// list matches the data length, a scalar (length-1 list) applied to
// every index, or 0xFF when no mask is declared.
func maskAt(mask []byte, i int) byte {
	switch {
	case len(mask) == 0:
		return 0xFF
	case len(mask) == 1:
		return mask[0]
	case i < len(mask):
		return mask[i]
	default:
		return 0xFF
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}
