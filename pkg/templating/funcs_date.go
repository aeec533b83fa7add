package templating

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
)

// dateLayouts are tried in order when a template passes a date as a string.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// namedLayouts are accepted by dateFormat in place of a Go layout string.
var namedLayouts = map[string]string{
	"iso":     "2006-01-02",
	"rfc3339": time.RFC3339,
	"rfc1123": time.RFC1123,
	"rfc822":  time.RFC822Z,
	"kitchen": time.Kitchen,
	"long":    "January 2, 2006",
	"short":   "Jan 2, 2006",
}

func dateFuncs() []FunctionEntry {
	return []FunctionEntry{
		impure("now", 0, 0, func([]any) (any, error) { return time.Now(), nil }),
		impure("timeAgo", 1, 1, timeAgo),
		pure("toTime", 1, 1, func(args []any) (any, error) { return timeArg("toTime", args[0]) }),
		pure("dateFormat", 2, 2, dateFormat),
		pure("strftime", 2, 2, strftimeFunc),
		pure("year", 1, 1, datePart("year", func(t time.Time) any { return int64(t.Year()) })),
		pure("month", 1, 1, datePart("month", func(t time.Time) any { return int64(t.Month()) })),
		pure("monthName", 1, 1, datePart("monthName", func(t time.Time) any { return t.Month().String() })),
		pure("day", 1, 1, datePart("day", func(t time.Time) any { return int64(t.Day()) })),
		pure("weekday", 1, 1, datePart("weekday", func(t time.Time) any { return t.Weekday().String() })),
		pure("yearDay", 1, 1, datePart("yearDay", func(t time.Time) any { return int64(t.YearDay()) })),
		pure("unix", 1, 1, datePart("unix", func(t time.Time) any { return t.Unix() })),
		pure("isoDate", 1, 1, datePart("isoDate", func(t time.Time) any { return t.Format("2006-01-02") })),
		pure("dateAdd", 2, 2, dateAdd),
		pure("daysBetween", 2, 2, daysBetween),
	}
}

// toTime accepts times, date strings in any of dateLayouts and Unix seconds.
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
		return time.Time{}, false
	}
	if n, ok := toNumber(v); ok {
		return time.Unix(int64(n.f), 0).UTC(), true
	}
	return time.Time{}, false
}

func timeArg(fn string, v any) (time.Time, error) {
	t, ok := toTime(v)
	if !ok {
		return time.Time{}, invalidArg(fn, "cannot parse %q as a date", toString(v))
	}
	return t, nil
}

func datePart(name string, fn func(time.Time) any) Func {
	return func(args []any) (any, error) {
		t, err := timeArg(name, args[0])
		if err != nil {
			return nil, err
		}
		return fn(t), nil
	}
}

func dateFormat(args []any) (any, error) {
	layout := toString(args[0])
	if named, ok := namedLayouts[strings.ToLower(layout)]; ok {
		layout = named
	}
	t, err := timeArg("dateFormat", args[1])
	if err != nil {
		return nil, err
	}
	return t.Format(layout), nil
}

func strftimeFunc(args []any) (any, error) {
	t, err := timeArg("strftime", args[1])
	if err != nil {
		return nil, err
	}
	return strftime.Format(toString(args[0]), t), nil
}

func timeAgo(args []any) (any, error) {
	t, err := timeArg("timeAgo", args[0])
	if err != nil {
		return nil, err
	}
	return humanize.Time(t), nil
}

// parseSpan extends time.ParseDuration with day ("d") and week ("w") units.
func parseSpan(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, found := strings.CutSuffix(s, suffix); found {
			count, err := strconv.Atoi(n)
			if err != nil {
				return 0, false
			}
			return time.Duration(count) * unit, true
		}
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}

func dateAdd(args []any) (any, error) {
	span, ok := parseSpan(toString(args[0]))
	if !ok {
		return nil, invalidArg("dateAdd", "cannot parse %q as a duration", toString(args[0]))
	}
	t, err := timeArg("dateAdd", args[1])
	if err != nil {
		return nil, err
	}
	return t.Add(span), nil
}

func daysBetween(args []any) (any, error) {
	a, err := timeArg("daysBetween", args[0])
	if err != nil {
		return nil, err
	}
	b, err := timeArg("daysBetween", args[1])
	if err != nil {
		return nil, err
	}
	return int64(b.Sub(a) / (24 * time.Hour)), nil
}
