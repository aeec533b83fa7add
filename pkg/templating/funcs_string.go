package templating

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	strip "github.com/grokify/html-strip-tags-go"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Functions that transform a value take it as their last argument so they
// compose with pipes: {{ page.title | truncate 20 }}.
func (r *Registry) stringFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("upper", 1, 1, stringMap(strings.ToUpper)),
		pure("lower", 1, 1, stringMap(strings.ToLower)),
		pure("title", 1, 1, stringMap(func(s string) string { return cases.Title(language.Und).String(s) })),
		pure("capitalize", 1, 1, stringMap(capitalize)),
		pure("trim", 1, 2, trim),
		pure("trimLeft", 2, 2, stringPair(strings.TrimLeft)),
		pure("trimRight", 2, 2, stringPair(strings.TrimRight)),
		pure("trimPrefix", 2, 2, stringPair(strings.TrimPrefix)),
		pure("trimSuffix", 2, 2, stringPair(strings.TrimSuffix)),
		pure("chomp", 1, 1, stringMap(func(s string) string { return strings.TrimRight(s, "\r\n") })),
		pure("replace", 3, 3, replace),
		pure("replaceRE", 3, 3, r.replaceRE),
		pure("findRE", 2, 2, r.findRE),
		pure("matchRE", 2, 2, r.matchRE),
		pure("split", 2, 2, split),
		pure("join", 2, 2, join),
		pure("fields", 1, 1, fields),
		pure("contains", 2, 2, stringTest(func(sub, s string) bool { return strings.Contains(s, sub) })),
		pure("containsAny", 2, 2, stringTest(func(chars, s string) bool { return strings.ContainsAny(s, chars) })),
		pure("hasPrefix", 2, 2, stringTest(func(prefix, s string) bool { return strings.HasPrefix(s, prefix) })),
		pure("hasSuffix", 2, 2, stringTest(func(suffix, s string) bool { return strings.HasSuffix(s, suffix) })),
		pure("truncate", 2, 3, truncate),
		pure("slugify", 1, 1, stringMap(slugify)),
		pure("camelCase", 1, 1, stringMap(camelCase)),
		pure("pascalCase", 1, 1, stringMap(pascalCase)),
		pure("snakeCase", 1, 1, stringMap(func(s string) string { return joinWords(s, "_") })),
		pure("kebabCase", 1, 1, stringMap(func(s string) string { return joinWords(s, "-") })),
		pure("humanize", 1, 1, stringMap(humanizeWords)),
		pure("reverse", 1, 1, stringMap(reverseString)),
		pure("repeat", 2, 2, r.repeat),
		pure("padLeft", 2, 3, r.pad("padLeft", true)),
		pure("padRight", 2, 3, r.pad("padRight", false)),
		pure("wordCount", 1, 1, func(args []any) (any, error) {
			return int64(len(strings.Fields(toString(args[0])))), nil
		}),
		pure("substr", 2, 3, substr),
		pure("indexOf", 2, 2, indexOf),
		pure("quote", 1, 1, stringMap(strconv.Quote)),
		pure("printf", 1, -1, printf),
		pure("default", 2, 2, func(args []any) (any, error) {
			if truthy(args[1]) {
				return args[1], nil
			}
			return args[0], nil
		}),
		pure("base64Encode", 1, 1, stringMap(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) })),
		pure("base64Decode", 1, 1, base64Decode),
		pure("md5", 1, 1, stringMap(md5Hex)),
		pure("sha1", 1, 1, stringMap(sha1Hex)),
		pure("sha256", 1, 1, stringMap(sha256Hex)),
		pure("htmlEscape", 1, 1, stringMap(html.EscapeString)),
		pure("htmlUnescape", 1, 1, stringMap(html.UnescapeString)),
		pure("plainify", 1, 1, stringMap(func(s string) string { return strings.TrimSpace(strip.StripTags(s)) })),
		pure("sanitizeHTML", 1, 1, stringMap(r.sanitizer.Sanitize)),
		pure("nl2br", 1, 1, stringMap(func(s string) string { return strings.ReplaceAll(s, "\n", "<br>\n") })),
		pure("jsonify", 1, 1, jsonify),
	}
}

// stringMap adapts a single-string transform to the Func convention.
func stringMap(fn func(string) string) Func {
	return func(args []any) (any, error) {
		return fn(toString(args[0])), nil
	}
}

// stringPair adapts f(input, arg) to the input-last argument order.
func stringPair(fn func(s, arg string) string) Func {
	return func(args []any) (any, error) {
		return fn(toString(args[1]), toString(args[0])), nil
	}
}

func stringTest(fn func(arg, s string) bool) Func {
	return func(args []any) (any, error) {
		return fn(toString(args[0]), toString(args[1])), nil
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func trim(args []any) (any, error) {
	if len(args) == 1 {
		return strings.TrimSpace(toString(args[0])), nil
	}
	return strings.Trim(toString(args[1]), toString(args[0])), nil
}

func replace(args []any) (any, error) {
	return strings.ReplaceAll(toString(args[2]), toString(args[0]), toString(args[1])), nil
}

func (r *Registry) replaceRE(args []any) (any, error) {
	re, err := r.compile("replaceRE", toString(args[0]))
	if err != nil {
		return nil, err
	}
	return re.ReplaceAllString(toString(args[2]), toString(args[1])), nil
}

func (r *Registry) findRE(args []any) (any, error) {
	re, err := r.compile("findRE", toString(args[0]))
	if err != nil {
		return nil, err
	}
	matches := re.FindAllString(toString(args[1]), -1)
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out, nil
}

func (r *Registry) matchRE(args []any) (any, error) {
	re, err := r.compile("matchRE", toString(args[0]))
	if err != nil {
		return nil, err
	}
	return re.MatchString(toString(args[1])), nil
}

func split(args []any) (any, error) {
	s := toString(args[1])
	if s == "" {
		return []any{}, nil
	}
	parts := strings.Split(s, toString(args[0]))
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func join(args []any) (any, error) {
	items, err := listArg("join", args[1])
	if err != nil {
		return nil, err
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = toString(item)
	}
	return strings.Join(parts, toString(args[0])), nil
}

func fields(args []any) (any, error) {
	words := strings.Fields(toString(args[0]))
	out := make([]any, len(words))
	for i, w := range words {
		out[i] = w
	}
	return out, nil
}

func truncate(args []any) (any, error) {
	n, err := intArg("truncate", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalidArg("truncate", "length must not be negative")
	}
	ellipsis := "…"
	if len(args) == 3 {
		ellipsis = toString(args[1])
	}
	s := toString(args[len(args)-1])
	rs := []rune(s)
	if len(rs) <= n {
		return s, nil
	}
	cut := string(rs[:n])
	if !unicode.IsSpace(rs[n]) {
		if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace) + ellipsis, nil
}

// splitWords breaks s into words at separators and case transitions, so
// "HTTPServer_port" yields HTTP, Server, port.
func splitWords(s string) []string {
	var (
		words []string
		cur   []rune
	)
	rs := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

func joinWords(s, sep string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, sep)
}

func camelCase(s string) string {
	out := pascalCase(s)
	r, size := utf8.DecodeRuneInString(out)
	if r == utf8.RuneError {
		return out
	}
	return string(unicode.ToLower(r)) + out[size:]
}

func pascalCase(s string) string {
	var b strings.Builder
	for _, w := range splitWords(s) {
		b.WriteString(capitalize(strings.ToLower(w)))
	}
	return b.String()
}

func humanizeWords(s string) string {
	return capitalize(strings.Join(strings.Fields(strings.ToLower(strings.Join(splitWords(s), " "))), " "))
}

// Slugify folds s into the lower-case, dash separated form used in URLs. It
// is the same transformation the slugify template function applies.
func Slugify(s string) string {
	return slugify(s)
}

// Humanize turns an identifier such as "getting-started" into "Getting started".
func Humanize(s string) string {
	return humanizeWords(s)
}

func slugify(s string) string {
	s = strings.ToLower(stripMarks(s))
	var b strings.Builder
	b.Grow(len(s))
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

func reverseString(s string) string {
	rs := []rune(s)
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return string(rs)
}

func (r *Registry) repeat(args []any) (any, error) {
	n, err := intArg("repeat", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, invalidArg("repeat", "count must not be negative")
	}
	s := toString(args[1])
	if n > 0 && len(s) > r.config.MaxStringLength/n {
		return nil, argError("repeat", ErrLimitExceeded, "repeat: result exceeds %d bytes", r.config.MaxStringLength)
	}
	return strings.Repeat(s, n), nil
}

func (r *Registry) pad(name string, left bool) Func {
	return func(args []any) (any, error) {
		width, err := intArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if width > r.config.MaxStringLength {
			return nil, argError(name, ErrLimitExceeded, "%s: width exceeds %d", name, r.config.MaxStringLength)
		}
		padding := " "
		if len(args) == 3 {
			padding = toString(args[1])
			if padding == "" {
				return nil, invalidArg(name, "padding must not be empty")
			}
		}
		s := toString(args[len(args)-1])
		missing := width - utf8.RuneCountInString(s)
		if missing <= 0 {
			return s, nil
		}
		fill := []rune(strings.Repeat(padding, missing/utf8.RuneCountInString(padding)+1))[:missing]
		if left {
			return string(fill) + s, nil
		}
		return s + string(fill), nil
	}
}

func substr(args []any) (any, error) {
	start, err := intArg("substr", args[0])
	if err != nil {
		return nil, err
	}
	rs := []rune(toString(args[len(args)-1]))
	if start < 0 {
		start += len(rs)
	}
	start = clampInt(start, 0, len(rs))
	end := len(rs)
	if len(args) == 3 {
		length, err := intArg("substr", args[1])
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, invalidArg("substr", "length must not be negative")
		}
		end = clampInt(start+length, start, len(rs))
	}
	return string(rs[start:end]), nil
}

func indexOf(args []any) (any, error) {
	s := toString(args[1])
	i := strings.Index(s, toString(args[0]))
	if i < 0 {
		return int64(-1), nil
	}
	return int64(utf8.RuneCountInString(s[:i])), nil
}

func printf(args []any) (any, error) {
	vals := make([]any, len(args)-1)
	for i, a := range args[1:] {
		switch a.(type) {
		case PropertyExposer, map[string]any, []any:
			vals[i] = toString(a)
		default:
			vals[i] = a
		}
	}
	return fmt.Sprintf(toString(args[0]), vals...), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func base64Decode(args []any) (any, error) {
	data, err := base64.StdEncoding.DecodeString(toString(args[0]))
	if err != nil {
		return nil, invalidArg("base64Decode", "%v", err)
	}
	return string(data), nil
}

func jsonify(args []any) (any, error) {
	data, err := json.Marshal(plainValue(args[0], 0))
	if err != nil {
		return nil, invalidArg("jsonify", "%v", err)
	}
	return string(data), nil
}

// plainValue flattens exposers into maps so they can be marshalled. Depth is
// bounded because pages link to each other.
func plainValue(v any, depth int) any {
	if depth > 4 {
		return nil
	}
	switch x := v.(type) {
	case PropertyExposer:
		return plainValue(x.Properties(), depth+1)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = plainValue(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plainValue(item, depth+1)
		}
		return out
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
