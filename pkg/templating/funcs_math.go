package templating

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

func mathFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("add", 2, -1, arith("add", addInt, func(a, b float64) float64 { return a + b })),
		pure("sub", 2, 2, arith("sub", subInt, func(a, b float64) float64 { return a - b })),
		pure("subtract", 2, 2, arith("subtract", subInt, func(a, b float64) float64 { return a - b })),
		pure("mul", 2, -1, arith("mul", mulInt, func(a, b float64) float64 { return a * b })),
		pure("multiply", 2, -1, arith("multiply", mulInt, func(a, b float64) float64 { return a * b })),
		pure("div", 2, 2, divide("div")),
		pure("divide", 2, 2, divide("divide")),
		pure("mod", 2, 2, mod),
		pure("pow", 2, 2, pow),
		pure("sqrt", 1, 1, sqrt),
		pure("abs", 1, 1, abs),
		pure("neg", 1, 1, neg),
		pure("ceil", 1, 1, rounding("ceil", math.Ceil)),
		pure("floor", 1, 1, rounding("floor", math.Floor)),
		pure("round", 1, 2, round),
		pure("min", 1, -1, extreme("min", -1)),
		pure("max", 1, -1, extreme("max", 1)),
		pure("inc", 1, 1, step("inc", 1)),
		pure("dec", 1, 1, step("dec", -1)),
		pure("sum", 1, 1, sum),
		pure("avg", 1, 1, avg),
		pure("clamp", 3, 3, clamp),
		pure("int", 1, 1, toIntFunc),
		pure("float", 1, 1, toFloatFunc),
		pure("log", 1, 1, logarithm),
		pure("numberFormat", 1, 2, numberFormat),
		pure("bytes", 1, 1, humanBytes),
		pure("ordinal", 1, 1, ordinal),
		pure("percent", 2, 3, percent),
	}
}

func addInt(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func subInt(a, b int64) (int64, bool) {
	if b == math.MinInt64 {
		return 0, false
	}
	return addInt(a, -b)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	return p, true
}

// finite rejects results that overflowed into infinities.
func finite(name string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalidArg(name, "result out of range")
	}
	return f, nil
}

// arith folds args left to right. Integer operands stay integers unless the
// operation overflows, in which case the fold continues in floating point.
func arith(name string, intOp func(a, b int64) (int64, bool), floatOp func(a, b float64) float64) Func {
	return func(args []any) (any, error) {
		acc, err := numberArg(name, args[0])
		if err != nil {
			return nil, err
		}
		for _, a := range args[1:] {
			n, err := numberArg(name, a)
			if err != nil {
				return nil, err
			}
			if acc.isInt && n.isInt {
				if v, ok := intOp(acc.i, n.i); ok {
					acc = intNumber(v)
					continue
				}
			}
			acc = floatNumber(floatOp(acc.f, n.f))
		}
		if !acc.isInt {
			return finite(name, acc.f)
		}
		return acc.i, nil
	}
}

func divide(name string) Func {
	return func(args []any) (any, error) {
		a, err := numberArg(name, args[0])
		if err != nil {
			return nil, err
		}
		b, err := numberArg(name, args[1])
		if err != nil {
			return nil, err
		}
		if b.f == 0 {
			return nil, divideByZero(name)
		}
		if a.isInt && b.isInt && a.i%b.i == 0 && !(a.i == math.MinInt64 && b.i == -1) {
			return a.i / b.i, nil
		}
		return finite(name, a.f/b.f)
	}
}

func mod(args []any) (any, error) {
	a, err := numberArg("mod", args[0])
	if err != nil {
		return nil, err
	}
	b, err := numberArg("mod", args[1])
	if err != nil {
		return nil, err
	}
	if b.f == 0 {
		return nil, divideByZero("mod")
	}
	if a.isInt && b.isInt {
		if b.i == -1 {
			return int64(0), nil
		}
		return a.i % b.i, nil
	}
	return math.Mod(a.f, b.f), nil
}

func pow(args []any) (any, error) {
	base, err := numberArg("pow", args[0])
	if err != nil {
		return nil, err
	}
	exp, err := numberArg("pow", args[1])
	if err != nil {
		return nil, err
	}
	if base.isInt && exp.isInt && exp.i >= 0 && exp.i <= 64 {
		result := int64(1)
		ok := true
		for i := int64(0); i < exp.i && ok; i++ {
			result, ok = mulInt(result, base.i)
		}
		if ok {
			return result, nil
		}
	}
	return finite("pow", math.Pow(base.f, exp.f))
}

func sqrt(args []any) (any, error) {
	x, err := floatArg("sqrt", args[0])
	if err != nil {
		return nil, err
	}
	if x < 0 {
		return nil, argError("sqrt", ErrNegativeSqrt, "sqrt of negative number")
	}
	return math.Sqrt(x), nil
}

func abs(args []any) (any, error) {
	n, err := numberArg("abs", args[0])
	if err != nil {
		return nil, err
	}
	if n.isInt && n.i != math.MinInt64 {
		if n.i < 0 {
			return -n.i, nil
		}
		return n.i, nil
	}
	return math.Abs(n.f), nil
}

func neg(args []any) (any, error) {
	n, err := numberArg("neg", args[0])
	if err != nil {
		return nil, err
	}
	if n.isInt && n.i != math.MinInt64 {
		return -n.i, nil
	}
	return -n.f, nil
}

// integral returns f as an int64 when it fits, otherwise unchanged.
func integral(f float64) any {
	if f >= math.MinInt64 && f < math.MaxInt64 && f == math.Trunc(f) {
		return int64(f)
	}
	return f
}

func rounding(name string, fn func(float64) float64) Func {
	return func(args []any) (any, error) {
		n, err := numberArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if n.isInt {
			return n.i, nil
		}
		return integral(fn(n.f)), nil
	}
}

func round(args []any) (any, error) {
	places := 0
	if len(args) == 2 {
		p, err := intArg("round", args[0])
		if err != nil {
			return nil, err
		}
		if p < 0 || p > 15 {
			return nil, invalidArg("round", "places must be between 0 and 15")
		}
		places = p
	}
	n, err := numberArg("round", args[len(args)-1])
	if err != nil {
		return nil, err
	}
	if n.isInt {
		return n.i, nil
	}
	if places == 0 {
		return integral(math.Round(n.f)), nil
	}
	scale := math.Pow(10, float64(places))
	return math.Round(n.f*scale) / scale, nil
}

// numbers accepts either a single list argument or the arguments themselves.
func numbers(name string, args []any) ([]number, error) {
	items := args
	if len(args) == 1 {
		if l, ok := toList(args[0]); ok {
			items = l
		}
	}
	out := make([]number, len(items))
	for i, item := range items {
		n, err := numberArg(name, item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func extreme(name string, sign float64) Func {
	return func(args []any) (any, error) {
		nums, err := numbers(name, args)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, invalidArg(name, "no values")
		}
		best := nums[0]
		for _, n := range nums[1:] {
			if (n.f-best.f)*sign > 0 {
				best = n
			}
		}
		return best.value(), nil
	}
}

func step(name string, delta int64) Func {
	return func(args []any) (any, error) {
		n, err := numberArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if n.isInt {
			if v, ok := addInt(n.i, delta); ok {
				return v, nil
			}
		}
		return n.f + float64(delta), nil
	}
}

func sum(args []any) (any, error) {
	nums, err := numbers("sum", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return int64(0), nil
	}
	vals := make([]any, len(nums))
	for i, n := range nums {
		vals[i] = n.value()
	}
	return arith("sum", addInt, func(a, b float64) float64 { return a + b })(vals)
}

func avg(args []any) (any, error) {
	nums, err := numbers("avg", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return int64(0), nil
	}
	var total float64
	for _, n := range nums {
		total += n.f
	}
	return finite("avg", total/float64(len(nums)))
}

func clamp(args []any) (any, error) {
	lo, err := numberArg("clamp", args[0])
	if err != nil {
		return nil, err
	}
	hi, err := numberArg("clamp", args[1])
	if err != nil {
		return nil, err
	}
	x, err := numberArg("clamp", args[2])
	if err != nil {
		return nil, err
	}
	if lo.f > hi.f {
		return nil, invalidArg("clamp", "lower bound exceeds upper bound")
	}
	switch {
	case x.f < lo.f:
		return lo.value(), nil
	case x.f > hi.f:
		return hi.value(), nil
	default:
		return x.value(), nil
	}
}

func toIntFunc(args []any) (any, error) {
	n, err := numberArg("int", args[0])
	if err != nil {
		return nil, err
	}
	if n.isInt {
		return n.i, nil
	}
	if n.f < math.MinInt64 || n.f >= math.MaxInt64 {
		return nil, invalidArg("int", "value out of range")
	}
	return int64(n.f), nil
}

func toFloatFunc(args []any) (any, error) {
	return floatArg("float", args[0])
}

func logarithm(args []any) (any, error) {
	x, err := floatArg("log", args[0])
	if err != nil {
		return nil, err
	}
	if x <= 0 {
		return nil, invalidArg("log", "argument must be positive")
	}
	return math.Log(x), nil
}

func numberFormat(args []any) (any, error) {
	n, err := numberArg("numberFormat", args[len(args)-1])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if n.isInt {
			return humanize.Comma(n.i), nil
		}
		return humanize.Commaf(n.f), nil
	}
	decimals, err := intArg("numberFormat", args[0])
	if err != nil {
		return nil, err
	}
	if decimals < 0 || decimals > 9 {
		return nil, invalidArg("numberFormat", "decimals must be between 0 and 9")
	}
	return humanize.FormatFloat("#,###."+strings.Repeat("#", decimals), n.f), nil
}

func humanBytes(args []any) (any, error) {
	n, err := numberArg("bytes", args[0])
	if err != nil {
		return nil, err
	}
	if n.f < 0 {
		return nil, invalidArg("bytes", "size must not be negative")
	}
	return humanize.Bytes(uint64(n.f)), nil
}

func ordinal(args []any) (any, error) {
	i, err := intArg("ordinal", args[0])
	if err != nil {
		return nil, err
	}
	return humanize.Ordinal(i), nil
}

func percent(args []any) (any, error) {
	part, err := floatArg("percent", args[0])
	if err != nil {
		return nil, err
	}
	whole, err := floatArg("percent", args[1])
	if err != nil {
		return nil, err
	}
	if whole == 0 {
		return nil, divideByZero("percent")
	}
	decimals := 0
	if len(args) == 3 {
		if decimals, err = intArg("percent", args[2]); err != nil {
			return nil, err
		}
		if decimals < 0 || decimals > 9 {
			return nil, invalidArg("percent", "decimals must be between 0 and 9")
		}
	}
	return strconv.FormatFloat(part/whole*100, 'f', decimals, 64) + "%", nil
}
