package token

import (
	"unicode"
)

type Type int

const (
	LParen Type = iota
	RParen
	Ident
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Ident:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

type Token struct {
	Value string
	Type  Type
	Line  int
}

// Tokenize splits WAT source into tokens. Comments are dropped; string
// tokens keep their escapes undecoded.
func Tokenize(input string) []Token {
	var tokens []Token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case r == '\n':
			line++
			continue
		case unicode.IsSpace(r):
			continue
		}

		// ;; line comment
		if r == ';' && i+1 < len(runes) && runes[i+1] == ';' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			line++
			continue
		}

		if r == '(' {
			// (; block comment ;), nestable
			if i+1 < len(runes) && runes[i+1] == ';' {
				depth := 1
				i += 2
				for i < len(runes) && depth > 0 {
					switch {
					case runes[i] == '(' && i+1 < len(runes) && runes[i+1] == ';':
						depth++
						i++
					case runes[i] == ';' && i+1 < len(runes) && runes[i+1] == ')':
						depth--
						i++
					case runes[i] == '\n':
						line++
					}
					i++
				}
				i--
				continue
			}
			tokens = append(tokens, Token{"(", LParen, line})
			continue
		}

		if r == ')' {
			tokens = append(tokens, Token{")", RParen, line})
			continue
		}

		if r == '"' {
			start := i + 1
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			end := min(i, len(runes))
			tokens = append(tokens, Token{string(runes[start:end]), String, line})
			continue
		}

		// signed inf/nan are keywords, not numbers
		if (r == '-' || r == '+') && i+1 < len(runes) && unicode.IsLetter(runes[i+1]) {
			start := i
			i++
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start:i]), Ident, line})
			i--
			continue
		}

		if r == '-' || r == '+' || unicode.IsDigit(r) {
			start := i
			i++
			for i < len(runes) && isNumberRune(runes, i) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start:i]), Number, line})
			i--
			continue
		}

		// keywords, $names and offset=/align= forms
		if isIdentRune(r) {
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start:i]), Ident, line})
			i--
			continue
		}
	}

	return tokens
}

func isIdentRune(c rune) bool {
	if unicode.IsLetter(c) || unicode.IsDigit(c) {
		return true
	}
	switch c {
	case '_', '.', '$', '-', ':', '=', '+', '/', '@', '#', '!', '?', '<', '>', '*', '\'', '^', '~', '|', '`', '%', '&':
		return true
	}
	return false
}

func isNumberRune(runes []rune, i int) bool {
	c := runes[i]
	if unicode.IsDigit(c) || c == '.' || c == '_' ||
		c == 'x' || c == 'X' || c == 'p' || c == 'P' ||
		(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
		return true
	}
	// exponent sign: 1e-3, 0x1p+4
	if c == '-' || c == '+' {
		prev := runes[i-1]
		return prev == 'e' || prev == 'E' || prev == 'p' || prev == 'P'
	}
	return false
}
