package expression

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenAnd
	tokenOr
	tokenOpen
	tokenClose
	tokenComma
	tokenIdent
	tokenValue
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of input"
	case tokenAnd:
		return "'&'"
	case tokenOr:
		return "'|'"
	case tokenOpen:
		return "'('"
	case tokenClose:
		return "')'"
	case tokenComma:
		return "','"
	case tokenIdent:
		return "identifier"
	case tokenValue:
		return "quoted value"
	default:
		return "unknown token"
	}
}

type token struct {
	kind tokenKind
	text string
	// 1-based column of the first character.
	column int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		col := i + 1

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '&':
			tokens = append(tokens, token{kind: tokenAnd, text: "&", column: col})
			i++
		case r == '|':
			tokens = append(tokens, token{kind: tokenOr, text: "|", column: col})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenOpen, text: "(", column: col})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenClose, text: ")", column: col})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", column: col})
			i++
		case r == '\'':
			end := i + 1
			for end < len(runes) && runes[end] != '\'' {
				end++
			}
			if end >= len(runes) {
				return nil, newSyntaxError(col, "unterminated quoted value")
			}
			tokens = append(tokens, token{kind: tokenValue, text: string(runes[i+1 : end]), column: col})
			i = end + 1
		case isIdentRune(r):
			end := i
			for end < len(runes) && isIdentRune(runes[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[i:end]), column: col})
			i = end
		default:
			return nil, newSyntaxError(col, fmt.Sprintf("unexpected character %q", r))
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, column: len(runes) + 1})
	return tokens, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func isKeyword(t token, keyword string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, keyword)
}
