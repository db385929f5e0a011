// Package literal renders row values as SQL literals for the columnar targets
// and splits bulk inserts into statements. Rendering client side keeps list
// and decimal values intact on wire protocols that only accept plain text.
package literal

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Dialect selects dialect-specific spellings.
type Dialect int

const (
	ClickHouse Dialect = iota
	DuckDB
)

var (
	quoter         = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	standardQuoter = strings.NewReplacer(`'`, `''`)
)

// Quote renders s as a single-quoted ClickHouse string literal.
func Quote(s string) string {
	return "'" + quoter.Replace(s) + "'"
}

func quote(s string, d Dialect) string {
	if d == DuckDB {
		return "'" + standardQuoter.Replace(s) + "'"
	}
	return Quote(s)
}

// Render returns the SQL literal of v.
func Render(v any, d Dialect) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(x, d), nil
	case bool:
		if d == ClickHouse {
			if x {
				return "1", nil
			}
			return "0", nil
		}
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return renderFloat(float64(x)), nil
	case float64:
		return renderFloat(x), nil
	case json.Number:
		return string(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return quote(formatTime(x), d), nil
	case []string:
		items := make([]string, len(x))
		for i, s := range x {
			items[i] = quote(s, d)
		}
		return "[" + strings.Join(items, ",") + "]", nil
	case []int64:
		items := make([]string, len(x))
		for i, n := range x {
			items[i] = strconv.FormatInt(n, 10)
		}
		return "[" + strings.Join(items, ",") + "]", nil
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			s, err := Render(item, d)
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "[" + strings.Join(items, ",") + "]", nil
	case map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return "", fmt.Errorf("render object: %w", err)
		}
		return quote(string(data), d), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func renderFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// formatTime renders t in UTC, with a fraction only when t has one.
func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.999999999")
}

// Inserts builds INSERT statements of at most batchSize rows each.
func Inserts(table string, columns []string, rows [][]any, batchSize int, d Dialect) ([]string, error) {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	var stmts []string
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}

		q := squirrel.Insert(table).Columns(columns...)
		for i, row := range rows[start:end] {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("row %d has %d values, want %d", start+i, len(row), len(columns))
			}
			values := make([]any, len(row))
			for j, v := range row {
				lit, err := Render(v, d)
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", start+i, columns[j], err)
				}
				values[j] = squirrel.Expr(lit)
			}
			q = q.Values(values...)
		}

		sql, _, err := q.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}
		stmts = append(stmts, sql)
	}
	return stmts, nil
}
