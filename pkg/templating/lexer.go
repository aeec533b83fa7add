package templating

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
	tokPipe
)

type token struct {
	kind tokenKind
	text string
	val  any
	pos  int
}

// lexExpr splits the inside of a {{ }} tag into tokens. Identifiers may
// contain dots (property paths) and hyphens (normalized names).
func lexExpr(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, pos: i})
			i++
		case c == '|':
			toks = append(toks, token{kind: tokPipe, pos: i})
			i++
		case c == '"' || c == '\'':
			s, n, err := lexQuoted(src[i:])
			if err != nil {
				return nil, fmt.Errorf("at %d: %w", i, err)
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case c == '`':
			end := strings.IndexByte(src[i+1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("at %d: unterminated raw string", i)
			}
			toks = append(toks, token{kind: tokString, text: src[i+1 : i+1+end], pos: i})
			i += end + 2
		case isDigit(c) || ((c == '-' || c == '+') && i+1 < len(src) && isDigit(src[i+1])):
			tok, n, err := lexNumber(src[i:])
			if err != nil {
				return nil, fmt.Errorf("at %d: %w", i, err)
			}
			tok.pos = i
			toks = append(toks, tok)
			i += n
		default:
			r, _ := utf8.DecodeRuneInString(src[i:])
			if !isIdentStart(r) {
				return nil, fmt.Errorf("at %d: unexpected character %q", i, r)
			}
			n := identLength(src[i:])
			text := src[i : i+n]
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("at %d: malformed path %q", i, text)
			}
			toks = append(toks, token{kind: tokIdent, text: text, pos: i})
			i += n
		}
	}
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func identLength(s string) int {
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		if !isIdentRune(r) {
			break
		}
		n += size
	}
	return n
}

func lexNumber(s string) (token, int, error) {
	n := 1
	for n < len(s) && (isDigit(s[n]) || s[n] == '.') {
		n++
	}
	if n < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[n:]); isIdentRune(r) {
			return token{}, 0, fmt.Errorf("malformed number %q", s[:n+1])
		}
	}
	text := s[:n]
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return token{kind: tokNumber, text: text, val: i}, n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, fmt.Errorf("malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, val: f}, n, nil
}

// lexQuoted reads a single- or double-quoted string starting at s[0] and
// returns its unescaped value and the number of bytes consumed.
func lexQuoted(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("unterminated string")
			}
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}
