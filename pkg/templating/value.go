package templating

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// PropertyExposer is implemented by every value a template can walk into with
// a property path (the site, pages, nested config blocks). The evaluator only
// ever reads the returned map; implementations may build it fresh per call.
type PropertyExposer interface {
	Properties() map[string]any
}

// normalizeName folds a property name into the alternate spelling used for
// case- and separator-insensitive lookups, so "build_config", "buildConfig"
// and "Build-Config" all match.
func normalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == '_' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// lookupKey finds name in props, first by exact key and then by normalized
// spelling. When several keys normalize to the same spelling, the smallest key
// wins so results do not depend on map iteration order.
func lookupKey(props map[string]any, name string) (any, bool) {
	if v, ok := props[name]; ok {
		return v, true
	}
	want := normalizeName(name)
	var (
		found   bool
		bestKey string
		value   any
	)
	for k, v := range props {
		if normalizeName(k) != want {
			continue
		}
		if !found || k < bestKey {
			found, bestKey, value = true, k, v
		}
	}
	return value, found
}

// property resolves a single path segment against v.
func property(v any, seg string) (any, bool) {
	switch x := v.(type) {
	case PropertyExposer:
		return lookupKey(x.Properties(), seg)
	case map[string]any:
		return lookupKey(x, seg)
	case map[string]string:
		if s, ok := x[seg]; ok {
			return s, true
		}
		for k, s := range x {
			if normalizeName(k) == normalizeName(seg) {
				return s, true
			}
		}
		return nil, false
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], true
	case []string:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(x) {
			return nil, false
		}
		return x[i], true
	default:
		return nil, false
	}
}

// toString renders any template value as output text.
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = toString(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	case PropertyExposer:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// number is a parsed numeric template value. Integers stay integers through
// arithmetic so "{{ add 2 3 }}" prints "5" rather than "5.0".
type number struct {
	i     int64
	f     float64
	isInt bool
}

func intNumber(i int64) number     { return number{i: i, f: float64(i), isInt: true} }
func floatNumber(f float64) number { return number{i: int64(f), f: f} }

func (n number) value() any {
	if n.isInt {
		return n.i
	}
	return n.f
}

// toNumber converts numeric values and numeric strings. NaN and infinities are
// rejected so they can never leak into output.
func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return intNumber(int64(x)), true
	case int64:
		return intNumber(x), true
	case int32:
		return intNumber(int64(x)), true
	case uint:
		return intNumber(int64(x)), true
	case uint64:
		if x > math.MaxInt64 {
			return floatNumber(float64(x)), true
		}
		return intNumber(int64(x)), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return number{}, false
		}
		return floatNumber(x), true
	case float32:
		return toNumber(float64(x))
	case bool:
		return number{}, false
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return number{}, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return intNumber(i), true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return number{}, false
		}
		return floatNumber(f), true
	default:
		return number{}, false
	}
}

// toInt converts v to an int when it holds an integral value.
func toInt(v any) (int, bool) {
	n, ok := toNumber(v)
	if !ok {
		return 0, false
	}
	if !n.isInt {
		if n.f != math.Trunc(n.f) {
			return 0, false
		}
		return int(n.f), true
	}
	return int(n.i), true
}

// toList converts v to a list. Strings are treated as comma separated lists so
// string-only callers (Registry.Call) can still pass collections.
func toList(v any) ([]any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, true
	case string:
		if strings.TrimSpace(x) == "" {
			return []any{}, true
		}
		parts := strings.Split(x, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, true
	case map[string]any:
		keys := sortedKeys(x)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = x[k]
		}
		return out, true
	default:
		return nil, false
	}
}

// truthy reports whether v counts as true in conditions.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case time.Time:
		return !x.IsZero()
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	if n, ok := toNumber(v); ok {
		return n.f != 0
	}
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendKey serializes v into b for memoization keys. It reports false for
// values without a stable serialization, which makes the call uncacheable.
func appendKey(b *strings.Builder, v any) bool {
	switch x := v.(type) {
	case nil:
		b.WriteString("n;")
	case string:
		b.WriteByte('s')
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte(':')
		b.WriteString(x)
	case bool:
		if x {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	case int, int64, int32, uint, uint64:
		b.WriteByte('i')
		b.WriteString(toString(x))
		b.WriteByte(';')
	case float64, float32:
		b.WriteByte('f')
		b.WriteString(toString(x))
		b.WriteByte(';')
	case time.Time:
		b.WriteByte('t')
		b.WriteString(x.Format(time.RFC3339Nano))
		b.WriteByte(';')
	case []string:
		b.WriteString("l")
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte('[')
		for _, s := range x {
			appendKey(b, s)
		}
		b.WriteByte(']')
	case []any:
		b.WriteString("l")
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte('[')
		for _, item := range x {
			if !appendKey(b, item) {
				return false
			}
		}
		b.WriteByte(']')
	case map[string]any:
		b.WriteString("m")
		b.WriteString(strconv.Itoa(len(x)))
		b.WriteByte('{')
		for _, k := range sortedKeys(x) {
			appendKey(b, k)
			if !appendKey(b, x[k]) {
				return false
			}
		}
		b.WriteByte('}')
	default:
		return false
	}
	return true
}
