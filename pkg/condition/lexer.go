package condition

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokVar
	tokIdent
	tokTrue
	tokFalse
	tokNull
	tokEq
	tokNeq
	tokGt
	tokLt
	tokGte
	tokLte
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

var tokenNames = map[tokenKind]string{
	tokEOF: "end of expression", tokNumber: "number", tokString: "string",
	tokVar: "variable", tokIdent: "identifier", tokTrue: "true", tokFalse: "false",
	tokNull: "null", tokEq: "==", tokNeq: "!=", tokGt: ">", tokLt: "<",
	tokGte: ">=", tokLte: "<=", tokAnd: "&&", tokOr: "||", tokNot: "!",
	tokLParen: "(", tokRParen: ")",
}

func (k tokenKind) String() string { return tokenNames[k] }

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits an expression into tokens. It never evaluates anything.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '{' && strings.HasPrefix(src[i:], "{{"):
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				return nil, fmt.Errorf("unterminated variable at %d", i)
			}
			key := strings.TrimSpace(src[i+2 : i+2+end])
			if key == "" {
				return nil, fmt.Errorf("empty variable at %d", i)
			}
			toks = append(toks, token{kind: tokVar, text: key, pos: i})
			i += end + 4
		case c == '\'' || c == '"':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, fmt.Errorf("%w at %d", err, i)
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentStart(decodeRune(src[i:])):
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			word := src[start:i]
			kind := tokIdent
			switch word {
			case "true":
				kind = tokTrue
			case "false":
				kind = tokFalse
			case "null", "undefined":
				kind = tokNull
			}
			toks = append(toks, token{kind: kind, text: word, pos: start})
		default:
			kind, n, err := lexOperator(src[i:])
			if err != nil {
				return nil, fmt.Errorf("%w at %d", err, i)
			}
			toks = append(toks, token{kind: kind, text: src[i : i+n], pos: i})
			i += n
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func lexOperator(s string) (tokenKind, int, error) {
	switch {
	case strings.HasPrefix(s, "==="):
		return tokEq, 3, nil
	case strings.HasPrefix(s, "!=="):
		return tokNeq, 3, nil
	case strings.HasPrefix(s, "=="):
		return tokEq, 2, nil
	case strings.HasPrefix(s, "!="):
		return tokNeq, 2, nil
	case strings.HasPrefix(s, ">="):
		return tokGte, 2, nil
	case strings.HasPrefix(s, "<="):
		return tokLte, 2, nil
	case strings.HasPrefix(s, "&&"):
		return tokAnd, 2, nil
	case strings.HasPrefix(s, "||"):
		return tokOr, 2, nil
	}
	switch s[0] {
	case '>':
		return tokGt, 1, nil
	case '<':
		return tokLt, 1, nil
	case '!':
		return tokNot, 1, nil
	case '(':
		return tokLParen, 1, nil
	case ')':
		return tokRParen, 1, nil
	}
	return tokEOF, 0, fmt.Errorf("unexpected character %q", s[0])
}

// lexString reads a quoted literal, honouring backslash escapes of the quote
// and of the backslash itself. It returns the unquoted text and bytes consumed.
func lexString(s string) (string, int, error) {
	quote := s[0]
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			sb.WriteByte(s[i])
		case c == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func decodeRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return r == '_' || r == '$' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) || r == '.' }
