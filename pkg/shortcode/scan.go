package shortcode

import (
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
)

// Tags look like {% name args %}. A block tag is closed by {% endname %};
// the text between is passed to the shortcode unparsed. {%/* name */%} is
// an escaped tag and is emitted as the literal {% name %}.
const (
	tagOpen     = "{%"
	tagClose    = "%}"
	escapeOpen  = "{%/*"
	escapeClose = "*/%}"
	closePrefix = "end"
)

var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Protected markers carry a tag through Markdown conversion untouched. The
// tag text is hex encoded so no Markdown syntax can appear in it.
const (
	markerPrefix = "SUNDEWSC-"
	markerSuffix = "-CS"
)

var markerRE = regexp.MustCompile(markerPrefix + `([0-9a-f]*)` + markerSuffix)

type tag struct {
	name    string
	args    string
	inner   string
	hasBody bool
	start   int // index of the opening "{%"
	end     int // index just past the tag, including body and close tag

	escaped bool
	literal string
}

// nextTag returns the first shortcode tag starting at or after from. Stray
// close tags and malformed tags are skipped over as text.
func nextTag(text string, from int) (tag, bool) {
	for from < len(text) {
		i := strings.Index(text[from:], tagOpen)
		if i < 0 {
			return tag{}, false
		}
		start := from + i
		if strings.HasPrefix(text[start:], escapeOpen) {
			if j := strings.Index(text[start+len(escapeOpen):], escapeClose); j >= 0 {
				inside := text[start+len(escapeOpen) : start+len(escapeOpen)+j]
				return tag{
					start:   start,
					end:     start + len(escapeOpen) + j + len(escapeClose),
					escaped: true,
					literal: tagOpen + inside + tagClose,
				}, true
			}
		}
		name, args, openEnd, ok := parseTagAt(text, start)
		if !ok || strings.HasPrefix(name, closePrefix) {
			from = start + len(tagOpen)
			continue
		}
		t := tag{name: name, args: args, start: start, end: openEnd}
		if closeStart, closeEnd, found := findClose(text, openEnd, name); found {
			t.inner = text[openEnd:closeStart]
			t.hasBody = true
			t.end = closeEnd
		}
		return t, true
	}
	return tag{}, false
}

// parseTagAt reads the tag opening at start, returning its name, raw
// argument text and the index just past its "%}".
func parseTagAt(text string, start int) (name, args string, end int, ok bool) {
	body := text[start+len(tagOpen):]
	j := strings.Index(body, tagClose)
	if j < 0 {
		return "", "", 0, false
	}
	inner := strings.TrimSpace(body[:j])
	name = inner
	if k := strings.IndexFunc(inner, unicode.IsSpace); k >= 0 {
		name, args = inner[:k], inner[k+1:]
	}
	if !nameRE.MatchString(name) {
		return "", "", 0, false
	}
	return name, strings.TrimSpace(args), start + len(tagOpen) + j + len(tagClose), true
}

// findClose locates the {% endname %} matching an open tag, counting nested
// tags of the same name.
func findClose(text string, from int, name string) (closeStart, closeEnd int, ok bool) {
	depth := 1
	pos := from
	for pos < len(text) {
		i := strings.Index(text[pos:], tagOpen)
		if i < 0 {
			return 0, 0, false
		}
		s := pos + i
		if strings.HasPrefix(text[s:], escapeOpen) {
			if j := strings.Index(text[s+len(escapeOpen):], escapeClose); j >= 0 {
				pos = s + len(escapeOpen) + j + len(escapeClose)
				continue
			}
		}
		n, _, e, valid := parseTagAt(text, s)
		if !valid {
			pos = s + len(tagOpen)
			continue
		}
		switch n {
		case name:
			depth++
		case closePrefix + name:
			depth--
			if depth == 0 {
				return s, e, true
			}
		}
		pos = e
	}
	return 0, 0, false
}

func protect(raw string) string {
	return markerPrefix + hex.EncodeToString([]byte(raw)) + markerSuffix
}

// unprotect restores every protected marker in text to its original tag.
func unprotect(text string) string {
	if !strings.Contains(text, markerPrefix) {
		return text
	}
	return markerRE.ReplaceAllStringFunc(text, func(m string) string {
		raw, err := hex.DecodeString(markerRE.FindStringSubmatch(m)[1])
		if err != nil {
			return m
		}
		return string(raw)
	})
}
