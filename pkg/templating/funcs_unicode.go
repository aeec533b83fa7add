package templating

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/unicode/runenames"
	"golang.org/x/text/width"
)

var (
	scriptNames   = sortedTableNames(unicode.Scripts, 0)
	categoryNames = sortedTableNames(unicode.Categories, 2)
)

// sortedTableNames fixes the lookup order for the unicode range tables.
// A non-zero size keeps only names of that length (the two-letter general
// categories).
func sortedTableNames(tables map[string]*unicode.RangeTable, size int) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		if size == 0 || len(name) == size {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func unicodeFuncs() []FunctionEntry {
	return []FunctionEntry{
		pure("runeCount", 1, 1, func(args []any) (any, error) {
			return int64(utf8.RuneCountInString(toString(args[0]))), nil
		}),
		pure("charName", 1, 1, charName),
		pure("charCategory", 1, 1, charCategory),
		pure("codepoints", 1, 1, stringMap(codepoints)),
		pure("isLetter", 1, 1, allRunes(unicode.IsLetter)),
		pure("isDigit", 1, 1, allRunes(unicode.IsDigit)),
		pure("isUpper", 1, 1, allRunes(func(r rune) bool { return !unicode.IsLetter(r) || unicode.IsUpper(r) })),
		pure("isLower", 1, 1, allRunes(func(r rune) bool { return !unicode.IsLetter(r) || unicode.IsLower(r) })),
		pure("isSpace", 1, 1, allRunes(unicode.IsSpace)),
		pure("isPunct", 1, 1, allRunes(unicode.IsPunct)),
		pure("script", 1, 1, stringMap(dominantScript)),
		pure("normalize", 2, 2, normalize),
		pure("removeDiacritics", 1, 1, stringMap(stripMarks)),
		pure("toASCII", 1, 1, stringMap(toASCII)),
		pure("displayWidth", 1, 1, func(args []any) (any, error) {
			return int64(displayWidth(toString(args[0]))), nil
		}),
		pure("foldWidth", 1, 1, stringMap(width.Fold.String)),
	}
}

func firstRune(fn string, v any) (rune, error) {
	r, _ := utf8.DecodeRuneInString(toString(v))
	if r == utf8.RuneError {
		return 0, invalidArg(fn, "expected a non-empty string")
	}
	return r, nil
}

func charName(args []any) (any, error) {
	r, err := firstRune("charName", args[0])
	if err != nil {
		return nil, err
	}
	return runenames.Name(r), nil
}

func charCategory(args []any) (any, error) {
	r, err := firstRune("charCategory", args[0])
	if err != nil {
		return nil, err
	}
	for _, name := range categoryNames {
		if unicode.Is(unicode.Categories[name], r) {
			return name, nil
		}
	}
	return "Cn", nil
}

func codepoints(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		parts = append(parts, fmt.Sprintf("%U", r))
	}
	return strings.Join(parts, " ")
}

// allRunes reports whether s is non-empty and every rune satisfies test.
func allRunes(test func(rune) bool) Func {
	return func(args []any) (any, error) {
		s := toString(args[0])
		if s == "" {
			return false, nil
		}
		for _, r := range s {
			if !test(r) {
				return false, nil
			}
		}
		return true, nil
	}
}

// dominantScript names the script most of the letters in s belong to.
// Ties resolve to the alphabetically first script.
func dominantScript(s string) string {
	counts := make(map[string]int)
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		for _, name := range scriptNames {
			if unicode.Is(unicode.Scripts[name], r) {
				counts[name]++
				break
			}
		}
	}
	best, bestCount := "", 0
	for _, name := range scriptNames {
		if counts[name] > bestCount {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

func normalize(args []any) (any, error) {
	var form norm.Form
	switch strings.ToUpper(toString(args[0])) {
	case "NFC":
		form = norm.NFC
	case "NFD":
		form = norm.NFD
	case "NFKC":
		form = norm.NFKC
	case "NFKD":
		form = norm.NFKD
	default:
		return nil, invalidArg("normalize", "unknown form %q", toString(args[0]))
	}
	return form.String(toString(args[1])), nil
}

// stripMarks removes combining marks after canonical decomposition, turning
// "Crème Brûlée" into "Creme Brulee". Transformers are stateful, so each call
// builds its own chain.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func toASCII(s string) string {
	var b strings.Builder
	for _, r := range width.Fold.String(stripMarks(s)) {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// displayWidth counts terminal columns: wide East Asian runes take two,
// combining marks none.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r):
		case width.LookupRune(r).Kind() == width.EastAsianWide, width.LookupRune(r).Kind() == width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
