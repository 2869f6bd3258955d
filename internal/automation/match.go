package automation

import (
	"fmt"
	"regexp"

	"github.com/homenetio/bridge/internal/config"
)

// matchValue evaluates a state trigger's MatchSpec against a decoded
// state value.
func matchValue(spec *config.MatchSpec, value any) bool {
	if spec == nil {
		return true
	}
	if spec.IsRegex {
		re, err := regexp.Compile(spec.Regex)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", value))
	}
	if spec.Scalar != nil {
		return fmt.Sprintf("%v", spec.Scalar) == fmt.Sprintf("%v", value)
	}
	if spec.Eq != nil {
		var want any
		if err := spec.Eq.Decode(&want); err == nil {
			return fmt.Sprintf("%v", want) == fmt.Sprintf("%v", value)
		}
	}
	f, ok := numericValue(value)
	if !ok {
		return false
	}
	if spec.Gt != nil && !(f > *spec.Gt) {
		return false
	}
	if spec.Gte != nil && !(f >= *spec.Gte) {
		return false
	}
	if spec.Lt != nil && !(f < *spec.Lt) {
		return false
	}
	if spec.Lte != nil && !(f <= *spec.Lte) {
		return false
	}
	return spec.Gt != nil || spec.Gte != nil || spec.Lt != nil || spec.Lte != nil
}

func numericValue(v any) (float64, bool) {
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
