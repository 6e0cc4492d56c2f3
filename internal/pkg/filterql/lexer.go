package filterql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenWord
	TokenString
	TokenOp
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of input"
	case TokenIllegal:
		return "illegal"
	case TokenWord:
		return "word"
	case TokenString:
		return "string"
	case TokenOp:
		return "operator"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	default:
		return "unknown"
	}
}

// Token is a lexical token and its byte offset in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer splits a filter expression into tokens.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token. Once the input is exhausted it keeps
// returning TokenEOF.
func (l *Lexer) NextToken() Token {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	start := l.pos
	if start >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch ch := l.input[start]; ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}
	case ':', '=':
		l.pos++
		return Token{Type: TokenOp, Value: string(ch), Pos: start}
	case '<', '>', '!':
		l.pos++
		if l.pos < len(l.input) && l.input[l.pos] == '=' {
			l.pos++
			return Token{Type: TokenOp, Value: l.input[start:l.pos], Pos: start}
		}
		if ch == '!' {
			return Token{Type: TokenNot, Value: "!", Pos: start}
		}
		return Token{Type: TokenOp, Value: string(ch), Pos: start}
	case '"':
		return l.readString()
	}

	r, size := utf8.DecodeRuneInString(l.input[start:])
	if !isWordRune(r) {
		l.pos += size
		return Token{Type: TokenIllegal, Value: string(r), Pos: start}
	}
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isWordRune(r) {
			break
		}
		l.pos += size
	}
	word := l.input[start:l.pos]
	switch strings.ToUpper(word) {
	case "AND":
		return Token{Type: TokenAnd, Value: "AND", Pos: start}
	case "OR":
		return Token{Type: TokenOr, Value: "OR", Pos: start}
	case "NOT":
		return Token{Type: TokenNot, Value: "NOT", Pos: start}
	}
	return Token{Type: TokenWord, Value: word, Pos: start}
}

// readString reads a double-quoted string. Backslash escapes the next
// character. An unterminated string is illegal.
func (l *Lexer) readString() Token {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '"':
			l.pos++
			return Token{Type: TokenString, Value: b.String(), Pos: start}
		case ch == '\\' && l.pos+1 < len(l.input):
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
		default:
			b.WriteByte(ch)
			l.pos++
		}
	}
	return Token{Type: TokenIllegal, Value: l.input[start:], Pos: start}
}

// Topics are '/' separated and patterns use '*' and '?', so those are part
// of words.
func isWordRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '_', '-', '.', '/', '*', '?', '@', '+':
		return true
	}
	return false
}
