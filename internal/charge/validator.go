package charge

import (
	"encoding/json"
	"fmt"
	"math"
)

// ParseUnit turns the untyped unit of a charge request into a whole,
// non-negative amount. JSON numbers may arrive as json.Number (decoder with
// UseNumber) or float64 (plain decoding); both are accepted when whole.
func ParseUnit(v any) (int64, error) {
	switch u := v.(type) {
	case nil:
		return 0, fmt.Errorf("%w: required: unit", ErrInvalidArgument)
	case json.Number:
		if n, err := u.Int64(); err == nil {
			return checkUnit(n)
		}
		f, err := u.Float64()
		if err != nil {
			return 0, invalidUnit()
		}
		return unitFromFloat(f)
	case float64:
		return unitFromFloat(u)
	case float32:
		return unitFromFloat(float64(u))
	case int:
		return checkUnit(int64(u))
	case int8:
		return checkUnit(int64(u))
	case int16:
		return checkUnit(int64(u))
	case int32:
		return checkUnit(int64(u))
	case int64:
		return checkUnit(u)
	case uint:
		return unitFromUint(uint64(u))
	case uint8:
		return int64(u), nil
	case uint16:
		return int64(u), nil
	case uint32:
		return int64(u), nil
	case uint64:
		return unitFromUint(u)
	default:
		return 0, invalidUnit()
	}
}

func checkUnit(n int64) (int64, error) {
	if n < 0 {
		return 0, invalidUnit()
	}
	return n, nil
}

func unitFromUint(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, invalidUnit()
	}
	return int64(n), nil
}

func unitFromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, invalidUnit()
	}
	if f < 0 || f >= float64(math.MaxInt64) {
		return 0, invalidUnit()
	}
	return int64(f), nil
}

func invalidUnit() error {
	return fmt.Errorf("%w: invalid: unit", ErrInvalidArgument)
}
