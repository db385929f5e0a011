package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Caster converts a source value into its target representation.
// A Caster must not retain or mutate v.
type Caster func(v any) (any, error)

// Built-in caster names. Several names are aliases of the same function so
// that both short and descriptive spellings can be used in definitions.
const (
	CasterString     = "string"
	CasterInteger    = "integer"
	CasterFloat      = "float"
	CasterBoolean    = "boolean"
	CasterTimestamp  = "timestamp"
	CasterListString = "list_str"
	CasterListInt    = "list_int"
	CasterDecimal    = "decimal"
	CasterToArray    = "to_array"
)

var errWrongType = errors.New("unexpected value type")

// Casters is a name-keyed dispatch table. Registration happens at startup;
// lookups are safe for concurrent use.
type Casters struct {
	mu sync.RWMutex
	m  map[string]Caster
}

// NewCasters returns an empty table.
func NewCasters() *Casters {
	return &Casters{m: make(map[string]Caster)}
}

// DefaultCasters returns the table of built-in casters.
func DefaultCasters() *Casters {
	c := NewCasters()
	c.Register(CasterString, castString, "str")
	c.Register(CasterInteger, castInt, "int")
	c.Register(CasterFloat, castFloat)
	c.Register(CasterBoolean, castBool, "bool")
	c.Register(CasterTimestamp, castTimestamp, "from_datetime", "datetime")
	c.Register(CasterListString, listOf(stringify), "[List, str]")
	c.Register(CasterListInt, listOf(toInt64), "[List, int]")
	c.Register(CasterDecimal, castDecimal)
	c.Register(CasterToArray, castToArray)
	return c
}

// Register adds fn under name and any aliases, replacing existing entries.
func (c *Casters) Register(name string, fn Caster, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[name] = fn
	for _, a := range aliases {
		c.m[a] = fn
	}
}

// Lookup returns the caster registered under name.
func (c *Casters) Lookup(name string) (Caster, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.m[name]
	return fn, ok
}

// Has reports whether name is registered.
func (c *Casters) Has(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// castString accepts strings only.
func castString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want string, got %T", errWrongType, v)
	}
	return s, nil
}

// castInt accepts integer, float and JSON number values, numeric strings and
// booleans. Fractional numbers are truncated toward zero.
func castInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", x, err)
		}
		return floatToInt(f)
	case string:
		return parseIntString(x)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("%w: want integer, got %T", errWrongType, v)
	}
}

func floatToInt(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("float %v is not representable as int64", f)
	}
	return int64(math.Trunc(f)), nil
}

func parseIntString(s string) (any, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return n, nil
}

func castFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", x, err)
		}
		return f, nil
	case json.Number:
		return x.Float64()
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	}
	n, err := castInt(v)
	if err != nil {
		return nil, fmt.Errorf("%w: want float, got %T", errWrongType, v)
	}
	return float64(n.(int64)), nil
}

// castBool accepts booleans, numbers (non-zero is true) and strconv.ParseBool strings.
func castBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", x, err)
		}
		return b, nil
	}
	f, err := castFloat(v)
	if err != nil {
		return nil, fmt.Errorf("%w: want boolean, got %T", errWrongType, v)
	}
	return f.(float64) != 0, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// castTimestamp parses ISO-8601 strings. Values without a zone are UTC.
func castTimestamp(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("parse timestamp %q: unsupported format", x)
	default:
		return nil, fmt.Errorf("%w: want timestamp string, got %T", errWrongType, v)
	}
}

func castDecimal(v any) (any, error) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("parse decimal %q: %w", x, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(string(x))
	case decimal.Decimal:
		return x, nil
	}
	n, err := castInt(v)
	if err != nil {
		return nil, fmt.Errorf("%w: want decimal, got %T", errWrongType, v)
	}
	return decimal.NewFromInt(n.(int64)), nil
}

// castToArray splits a comma separated string.
func castToArray(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: want comma separated string, got %T", errWrongType, v)
	}
	return strings.Split(strings.TrimSpace(s), ","), nil
}

// stringify renders list items as strings.
func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case nil, map[string]any, []any:
		return "", fmt.Errorf("%w: want scalar list item, got %T", errWrongType, v)
	default:
		return fmt.Sprint(x), nil
	}
}

func toInt64(v any) (int64, error) {
	n, err := castInt(v)
	if err != nil {
		return 0, err
	}
	return n.(int64), nil
}

// listOf applies item to every element of a list value.
func listOf[T any](item func(any) (T, error)) Caster {
	return func(v any) (any, error) {
		var items []any
		switch x := v.(type) {
		case []any:
			items = x
		case []string:
			items = make([]any, len(x))
			for i, s := range x {
				items[i] = s
			}
		default:
			return nil, fmt.Errorf("%w: want list, got %T", errWrongType, v)
		}

		out := make([]T, len(items))
		for i, raw := range items {
			c, err := item(raw)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
}
