package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/shopspring/decimal"
)

type operator func(fact any, value any) bool

var operators = map[string]operator{
	"equal":                func(f, v any) bool { return looseEqual(f, v) },
	"notEqual":             func(f, v any) bool { return !looseEqual(f, v) },
	"in":                   func(f, v any) bool { return inList(f, v) },
	"notIn":                func(f, v any) bool { return !inList(f, v) },
	"contains":             func(f, v any) bool { return contains(f, v) },
	"doesNotContain":       func(f, v any) bool { return !contains(f, v) },
	"lessThan":             numeric(func(c int) bool { return c < 0 }),
	"lessThanInclusive":    numeric(func(c int) bool { return c <= 0 }),
	"greaterThan":          numeric(func(c int) bool { return c > 0 }),
	"greaterThanInclusive": numeric(func(c int) bool { return c >= 0 }),
	"deepEqual":            func(f, v any) bool { return reflect.DeepEqual(normalize(f), normalize(v)) },
	"notDeepEqual":         func(f, v any) bool { return !reflect.DeepEqual(normalize(f), normalize(v)) },
}

// normalize maps YAML and JSON decodings onto one shape: numbers become
// float64, maps get string keys.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

// looseEqual compares scalars; numbers compare by value.
func looseEqual(a, b any) bool {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Equal(db)
		}
		return false
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func inList(f, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, it := range items {
		if looseEqual(f, it) {
			return true
		}
	}
	return false
}

func contains(f, v any) bool {
	switch t := f.(type) {
	case []any:
		return inList(v, t)
	case string:
		s, ok := v.(string)
		return ok && strings.Contains(t, s)
	}
	return false
}

func numeric(cmp func(int) bool) operator {
	return func(f, v any) bool {
		df, ok := toNumber(f)
		if !ok {
			return false
		}
		dv, ok := toNumber(v)
		if !ok {
			return false
		}
		return cmp(df.Cmp(dv))
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case float64:
		return decimal.NewFromFloat(t), true
	}
	return decimal.Decimal{}, false
}

// toNumber also accepts numeric strings; FSPIOP amounts are strings.
func toNumber(v any) (decimal.Decimal, bool) {
	if d, ok := toDecimal(v); ok {
		return d, true
	}
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}
