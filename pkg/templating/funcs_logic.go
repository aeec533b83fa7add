package templating

import (
	"strings"
	"time"
)

func logicFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("eq", 2, 2, func(args []any) (any, error) { return equal(args[0], args[1]), nil }),
		pure("ne", 2, 2, func(args []any) (any, error) { return !equal(args[0], args[1]), nil }),
		pure("lt", 2, 2, ordered(func(c int) bool { return c < 0 })),
		pure("le", 2, 2, ordered(func(c int) bool { return c <= 0 })),
		pure("gt", 2, 2, ordered(func(c int) bool { return c > 0 })),
		pure("ge", 2, 2, ordered(func(c int) bool { return c >= 0 })),
		pure("and", 1, -1, and),
		pure("or", 1, -1, or),
		pure("not", 1, 1, func(args []any) (any, error) { return !truthy(args[0]), nil }),
		pure("isSet", 1, 1, func(args []any) (any, error) { return truthy(args[0]), nil }),
		pure("isEmpty", 1, 1, func(args []any) (any, error) { return !truthy(args[0]), nil }),
		pure("cond", 3, 3, func(args []any) (any, error) {
			if truthy(args[0]) {
				return args[1], nil
			}
			return args[2], nil
		}),
	}
}

// and returns true only if all arguments are truthy.
func and(args []any) (any, error) {
	for _, arg := range args {
		if !truthy(arg) {
			return false, nil
		}
	}
	return true, nil
}

// or returns true if any argument is truthy.
func or(args []any) (any, error) {
	for _, arg := range args {
		if truthy(arg) {
			return true, nil
		}
	}
	return false, nil
}

// compare orders two values numerically when both are numbers, chronologically
// when both are times, and lexically otherwise.
func compare(a, b any) int {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			if x.isInt && y.isInt {
				switch {
				case x.i < y.i:
					return -1
				case x.i > y.i:
					return 1
				}
				return 0
			}
			switch {
			case x.f < y.f:
				return -1
			case x.f > y.f:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func equal(a, b any) bool {
	return compare(a, b) == 0
}

func ordered(test func(int) bool) Func {
	return func(args []any) (any, error) {
		return test(compare(args[0], args[1])), nil
	}
}
