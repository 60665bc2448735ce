package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

var dateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// match reports whether a node passes the filter. A list passes if any element does.
func (f Filter) match(node any) bool {
	if list, ok := node.([]any); ok {
		for _, el := range list {
			if f.match(el) {
				return true
			}
		}
		return false
	}

	m, ok := asMap(node)
	if !ok {
		return false
	}
	v, present := m[f.Field]

	switch f.Op {
	case OpExists:
		return exists(v)
	case OpEqual:
		if f.Argument == "null" && present && v == nil {
			return true
		}
	}
	if !present || v == nil {
		return false
	}

	switch f.Op {
	case OpContains:
		return strings.Contains(strings.ToLower(stringify(v)), strings.ToLower(f.Argument))
	case OpEqual:
		return compare(v, f.Argument, false) == 0
	case OpNotEqual:
		return compare(v, f.Argument, false) != 0
	case OpLess:
		return compare(v, f.Argument, true) < 0
	case OpGreater:
		return compare(v, f.Argument, true) > 0
	case OpLessEq:
		return compare(v, f.Argument, true) <= 0
	case OpGreaterEq:
		return compare(v, f.Argument, true) >= 0
	}
	return false
}

// exists treats nil, "" and false as absent. Zero counts as present.
func exists(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	}
	return true
}

// compare coerces a field value and a literal argument to a common kind and compares
// them: numbers numerically, then (for ordered comparisons) dates, then lower-cased
// strings.
func compare(v any, arg string, ordered bool) int {
	if a, ok := number(v); ok {
		if b, err := strconv.ParseFloat(arg, 64); err == nil {
			return cmpFloat(a, b)
		}
	}

	s := stringify(v)
	if ordered {
		if a, ok := parseDate(s); ok {
			if b, ok := parseDate(arg); ok {
				return a.Compare(b)
			}
		}
	}

	return strings.Compare(strings.ToLower(s), strings.ToLower(arg))
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && strings.TrimSpace(x) != ""
	}
	return 0, false
}

func parseDate(s string) (time.Time, bool) {
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any, models.Record, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case models.Record:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}
