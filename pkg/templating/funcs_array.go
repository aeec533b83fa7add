package templating

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

func (r *Registry) arrayFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("list", 0, -1, func(args []any) (any, error) { return append([]any{}, args...), nil }),
		pure("append", 2, -1, appendItems),
		pure("seq", 1, 3, r.seq),
		pure("first", 1, 1, first),
		pure("last", 1, 1, last),
		pure("index", 2, 2, index),
		pure("len", 1, 1, length),
		pure("uniq", 1, 1, uniq("uniq")),
		pure("dedup", 1, 1, uniq("dedup")),
		pure("sort", 1, 1, sortList("sort", false)),
		pure("sortDesc", 1, 1, sortList("sortDesc", true)),
		pure("sortBy", 2, 2, sortBy),
		pure("reverseList", 1, 1, reverseList),
		pure("chunk", 2, 2, chunk),
		pure("window", 2, 2, window),
		pure("partition", 2, 2, r.partition),
		pure("union", 2, 2, union),
		pure("intersect", 2, 2, setFilter("intersect", true)),
		pure("difference", 2, 2, setFilter("difference", false)),
		pure("flatten", 1, 1, flatten),
		pure("compact", 1, 1, compact),
		pure("in", 2, 2, in),
		pure("where", 2, 3, where),
		pure("pluck", 2, 2, pluck),
		pure("groupBy", 2, 2, groupBy),
		pure("after", 2, 2, after),
		pure("limit", 2, 2, limit),
		pure("keys", 1, 1, keys),
		pure("values", 1, 1, values),
	}
}

// itemKey gives every value a comparable identity for the set functions.
func itemKey(v any) string {
	var b strings.Builder
	if appendKey(&b, v) {
		return b.String()
	}
	return fmt.Sprintf("%T:%p", v, v)
}

// collection converts maps and exposers to their sorted values, other values
// through toList.
func collection(fn string, v any) ([]any, error) {
	if e, ok := v.(PropertyExposer); ok {
		v = e.Properties()
	}
	return listArg(fn, v)
}

func appendItems(args []any) (any, error) {
	items, err := listArg("append", args[len(args)-1])
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(items)+len(args)-1)
	out = append(out, items...)
	return append(out, args[:len(args)-1]...), nil
}

func (r *Registry) seq(args []any) (any, error) {
	bounds := make([]int, len(args))
	for i, a := range args {
		n, err := intArg("seq", a)
		if err != nil {
			return nil, err
		}
		bounds[i] = n
	}
	start, step, end := 1, 1, 0
	switch len(bounds) {
	case 1:
		end = bounds[0]
	case 2:
		start, end = bounds[0], bounds[1]
		if end < start {
			step = -1
		}
	case 3:
		start, step, end = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return nil, invalidArg("seq", "step must not be zero")
	}
	if (step > 0 && end < start) || (step < 0 && end > start) {
		return []any{}, nil
	}
	// The span is computed unsigned: end-start overflows int for far apart
	// bounds.
	span, stride := uint64(end)-uint64(start), uint64(step)
	if step < 0 {
		span, stride = uint64(start)-uint64(end), -uint64(step)
	}
	if span/stride >= uint64(r.config.MaxSeqLength) {
		return nil, argError("seq", ErrLimitExceeded, "seq: more than %d elements", r.config.MaxSeqLength)
	}
	count := int(span/stride) + 1
	out := make([]any, 0, count)
	for i, v := 0, start; i < count; i, v = i+1, v+step {
		out = append(out, int64(v))
	}
	return out, nil
}

func first(args []any) (any, error) {
	items, err := listArg("first", args[0])
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func last(args []any) (any, error) {
	items, err := listArg("last", args[0])
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[len(items)-1], nil
}

// index returns nil for out-of-range positions; negative positions count from
// the end.
func index(args []any) (any, error) {
	i, err := intArg("index", args[0])
	if err != nil {
		return nil, err
	}
	items, err := collection("index", args[1])
	if err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(items)
	}
	if i < 0 || i >= len(items) {
		return nil, nil
	}
	return items[i], nil
}

func length(args []any) (any, error) {
	switch x := args[0].(type) {
	case nil:
		return int64(0), nil
	case string:
		return int64(utf8.RuneCountInString(x)), nil
	case map[string]any:
		return int64(len(x)), nil
	case PropertyExposer:
		return int64(len(x.Properties())), nil
	}
	items, err := listArg("len", args[0])
	if err != nil {
		return nil, err
	}
	return int64(len(items)), nil
}

func uniq(name string) Func {
	return func(args []any) (any, error) {
		items, err := listArg(name, args[0])
		if err != nil {
			return nil, err
		}
		return lo.UniqBy(items, itemKey), nil
	}
}

func sortList(name string, desc bool) Func {
	return func(args []any) (any, error) {
		items, err := listArg(name, args[0])
		if err != nil {
			return nil, err
		}
		out := append([]any{}, items...)
		sort.SliceStable(out, func(i, j int) bool {
			if desc {
				return compare(out[i], out[j]) > 0
			}
			return compare(out[i], out[j]) < 0
		})
		return out, nil
	}
}

// sortBy orders items by a property path; a leading "-" sorts descending.
func sortBy(args []any) (any, error) {
	key := toString(args[0])
	desc := strings.HasPrefix(key, "-")
	key = strings.TrimPrefix(key, "-")
	items, err := listArg("sortBy", args[1])
	if err != nil {
		return nil, err
	}
	path := strings.Split(key, ".")
	out := append([]any{}, items...)
	sort.SliceStable(out, func(i, j int) bool {
		c := compare(walk(out[i], path), walk(out[j], path))
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out, nil
}

// walk resolves a property path relative to v, yielding nil when missing.
func walk(v any, path []string) any {
	cur := v
	for _, seg := range path {
		next, ok := property(cur, seg)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func reverseList(args []any) (any, error) {
	items, err := listArg("reverseList", args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out, nil
}

func sizeArg(fn string, v any) (int, error) {
	n, err := intArg(fn, v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, invalidArg(fn, "size must be positive")
	}
	return n, nil
}

func nested(groups [][]any) []any {
	return lo.Map(groups, func(g []any, _ int) any { return g })
}

func chunk(args []any) (any, error) {
	size, err := sizeArg("chunk", args[0])
	if err != nil {
		return nil, err
	}
	items, err := listArg("chunk", args[1])
	if err != nil {
		return nil, err
	}
	return nested(lo.Chunk(items, size)), nil
}

// window returns every run of size consecutive items.
func window(args []any) (any, error) {
	size, err := sizeArg("window", args[0])
	if err != nil {
		return nil, err
	}
	items, err := listArg("window", args[1])
	if err != nil {
		return nil, err
	}
	if size > len(items) {
		return []any{}, nil
	}
	out := make([]any, 0, len(items)-size+1)
	for i := 0; i+size <= len(items); i++ {
		out = append(out, append([]any{}, items[i:i+size]...))
	}
	return out, nil
}

// partition splits items into n parts whose sizes differ by at most one.
func (r *Registry) partition(args []any) (any, error) {
	n, err := sizeArg("partition", args[0])
	if err != nil {
		return nil, err
	}
	items, err := listArg("partition", args[1])
	if err != nil {
		return nil, err
	}
	if n > r.config.MaxSeqLength {
		return nil, argError("partition", ErrLimitExceeded, "partition: %d parts exceeds the limit of %d", n, r.config.MaxSeqLength)
	}
	out := make([]any, 0, n)
	base, extra := len(items)/n, len(items)%n
	pos := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, append([]any{}, items[pos:pos+size]...))
		pos += size
	}
	return out, nil
}

func union(args []any) (any, error) {
	a, err := listArg("union", args[0])
	if err != nil {
		return nil, err
	}
	b, err := listArg("union", args[1])
	if err != nil {
		return nil, err
	}
	all := make([]any, 0, len(a)+len(b))
	all = append(all, a...)
	return lo.UniqBy(append(all, b...), itemKey), nil
}

// setFilter keeps the items of the first list that are (or are not) present
// in the second.
func setFilter(name string, keep bool) Func {
	return func(args []any) (any, error) {
		a, err := listArg(name, args[0])
		if err != nil {
			return nil, err
		}
		b, err := listArg(name, args[1])
		if err != nil {
			return nil, err
		}
		present := make(map[string]struct{}, len(b))
		for _, item := range b {
			present[itemKey(item)] = struct{}{}
		}
		out := lo.Filter(a, func(item any, _ int) bool {
			_, ok := present[itemKey(item)]
			return ok == keep
		})
		return lo.UniqBy(out, itemKey), nil
	}
}

func flatten(args []any) (any, error) {
	items, err := listArg("flatten", args[0])
	if err != nil {
		return nil, err
	}
	return flattenInto(nil, items, 0), nil
}

func flattenInto(out, items []any, depth int) []any {
	if out == nil {
		out = []any{}
	}
	for _, item := range items {
		switch x := item.(type) {
		case []any:
			if depth < 16 {
				out = flattenInto(out, x, depth+1)
				continue
			}
		case []string:
			l, _ := toList(x)
			out = append(out, l...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func compact(args []any) (any, error) {
	items, err := listArg("compact", args[0])
	if err != nil {
		return nil, err
	}
	return lo.Filter(items, func(item any, _ int) bool { return truthy(item) }), nil
}

// in reports whether item is an element of the list, or a substring when the
// second argument is a plain string.
func in(args []any) (any, error) {
	if s, ok := args[1].(string); ok {
		return strings.Contains(s, toString(args[0])), nil
	}
	items, err := listArg("in", args[1])
	if err != nil {
		return nil, err
	}
	return lo.ContainsBy(items, func(item any) bool { return equal(item, args[0]) }), nil
}

// where filters items by a property path. With two arguments it keeps items
// whose property is truthy; with three it keeps those equal to the value.
func where(args []any) (any, error) {
	path := strings.Split(toString(args[0]), ".")
	items, err := listArg("where", args[len(args)-1])
	if err != nil {
		return nil, err
	}
	return lo.Filter(items, func(item any, _ int) bool {
		v := walk(item, path)
		if len(args) == 2 {
			return truthy(v)
		}
		return equal(v, args[1])
	}), nil
}

func pluck(args []any) (any, error) {
	path := strings.Split(toString(args[0]), ".")
	items, err := listArg("pluck", args[1])
	if err != nil {
		return nil, err
	}
	return lo.Map(items, func(item any, _ int) any { return walk(item, path) }), nil
}

// groupBy returns groups sorted by key, each exposing "key" and "items".
func groupBy(args []any) (any, error) {
	path := strings.Split(toString(args[0]), ".")
	items, err := listArg("groupBy", args[1])
	if err != nil {
		return nil, err
	}
	groups := lo.GroupBy(items, func(item any) string { return toString(walk(item, path)) })
	names := lo.Keys(groups)
	sort.Strings(names)
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = map[string]any{"key": name, "items": groups[name]}
	}
	return out, nil
}

func after(args []any) (any, error) {
	n, err := intArg("after", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalidArg("after", "count must not be negative")
	}
	items, err := listArg("after", args[1])
	if err != nil {
		return nil, err
	}
	return lo.Drop(items, n), nil
}

func limit(args []any) (any, error) {
	n, err := intArg("limit", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalidArg("limit", "count must not be negative")
	}
	items, err := listArg("limit", args[1])
	if err != nil {
		return nil, err
	}
	return append([]any{}, lo.Subset(items, 0, uint(n))...), nil
}

func keys(args []any) (any, error) {
	m, err := mapArg("keys", args[0])
	if err != nil {
		return nil, err
	}
	return lo.Map(sortedKeys(m), func(k string, _ int) any { return k }), nil
}

func values(args []any) (any, error) {
	m, err := mapArg("values", args[0])
	if err != nil {
		return nil, err
	}
	return lo.Map(sortedKeys(m), func(k string, _ int) any { return m[k] }), nil
}

func mapArg(fn string, v any) (map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return x, nil
	case PropertyExposer:
		return x.Properties(), nil
	default:
		return nil, invalidArg(fn, "expected a map, got %T", v)
	}
}
