package domain

import (
	"bytes"
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// NormalizeValue converts v into the canonical Go representation for the
// attribute type: string, int64, float64, bool, time.Time (UTC) or []byte.
// nil passes through. Values decoded from JSON (float64 numbers, RFC 3339
// strings, base64 strings) are accepted so that persisted records round trip.
func NormalizeValue(t AttributeType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			return n.Int64()
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTime:
		switch tv := v.(type) {
		case time.Time:
			return tv.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, tv)
			if err != nil {
				return nil, fmt.Errorf("parse time: %w", err)
			}
			return parsed.UTC(), nil
		}
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return bytes.Clone(b), nil
		case string:
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("decode bytes: %w", err)
			}
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a %s value", ErrTypeMismatch, v, t)
}

// Compare orders two attribute values. nil sorts before everything else;
// numbers compare numerically regardless of their Go type. Values of
// unrelated kinds compare by their type name so that ordering stays total.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ia, ok := a.(int64); ok {
		if ib, ok := b.(int64); ok {
			return cmp.Compare(ia, ib)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv)
		}
	case ID:
		if bv, ok := b.(ID); ok {
			return strings.Compare(string(av), string(bv))
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
