// Package lexer turns source text into the token stream consumed by the
// parser and echoed into lexer.txt.
package lexer

import (
	"fmt"

	"github.com/slowlang/sy/compiler/errs"
	"github.com/slowlang/sy/compiler/token"
)

type (
	Lexer struct {
		src  []byte
		pos  int
		line int

		errs *errs.List
	}
)

func New(src []byte, e *errs.List) *Lexer {
	return &Lexer{
		src:  src,
		line: 1,
		errs: e,
	}
}

// Tokens scans the whole input. The returned slice always ends with an
// EOF token.
func (l *Lexer) Tokens() []token.Token {
	var toks []token.Token

	for {
		t := l.next()

		toks = append(toks, t)

		if t.Kind == token.EOF {
			return toks
		}
	}
}

func (l *Lexer) next() token.Token {
	l.skipSpaceAndComments()

	c := l.ch()

	switch {
	case c == 0:
		return token.Token{Kind: token.EOF, Text: "EOF", Line: l.line}
	case isDigit(c):
		return l.scanNumber()
	case c == '"':
		return l.scanString()
	case isIdentStart(c):
		return l.scanIdent()
	default:
		return l.scanOperator()
	}
}

func (l *Lexer) ch() byte {
	if l.pos >= len(l.src) {
		return 0
	}

	return l.src[l.pos]
}

func (l *Lexer) peek() byte {
	if l.pos+1 >= len(l.src) {
		return 0
	}

	return l.src[l.pos+1]
}

func (l *Lexer) advance() {
	if l.pos < len(l.src) {
		if l.src[l.pos] == '\n' {
			l.line++
		}

		l.pos++
	}
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		c := l.ch()

		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peek() == '/':
			for l.ch() != 0 && l.ch() != '\n' {
				l.advance()
			}
		case c == '/' && l.peek() == '*':
			l.advance()
			l.advance()

			for l.ch() != 0 && !(l.ch() == '*' && l.peek() == '/') {
				l.advance()
			}

			l.advance()
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) scanNumber() token.Token {
	st, line := l.pos, l.line

	for isDigit(l.ch()) {
		l.advance()
	}

	return token.Token{Kind: token.INTCON, Text: string(l.src[st:l.pos]), Line: line}
}

// scanString keeps the surrounding quotes in the token text; escape
// sequences are passed through raw and decoded by printf lowering.
func (l *Lexer) scanString() token.Token {
	st, line := l.pos, l.line

	l.advance()

	for l.ch() != 0 && l.ch() != '"' {
		if l.ch() == '\\' {
			l.advance()
		}

		l.advance()
	}

	if l.ch() == '"' {
		l.advance()
	}

	return token.Token{Kind: token.STRCON, Text: string(l.src[st:l.pos]), Line: line}
}

func (l *Lexer) scanIdent() token.Token {
	st, line := l.pos, l.line

	for isIdentPart(l.ch()) {
		l.advance()
	}

	text := string(l.src[st:l.pos])

	return token.Token{Kind: token.Lookup(text), Text: text, Line: line}
}

func (l *Lexer) scanOperator() token.Token {
	c, n, line := l.ch(), l.peek(), l.line

	two := string([]byte{c, n})

	switch two {
	case "<=", ">=", "==", "!=", "&&", "||":
		l.advance()
		l.advance()

		kinds := map[string]token.Kind{"<=": token.LEQ, ">=": token.GEQ, "==": token.EQL, "!=": token.NEQ, "&&": token.AND, "||": token.OR}

		return token.Token{Kind: kinds[two], Text: two, Line: line}
	}

	// A lone & or | is an illegal symbol. Record it and hand the
	// parser the logical operator so parsing continues.
	if c == '&' || c == '|' {
		l.errs.Add(line, errs.IllegalSymbol)
		l.advance()

		k := token.AND
		if c == '|' {
			k = token.OR
		}

		return token.Token{Kind: k, Text: string(c), Line: line}
	}

	l.advance()

	return token.Token{Kind: token.Punct(c), Text: string(c), Line: line}
}

// Dump renders lexer.txt: one "TYPE TEXT" line per token, EOF omitted.
func Dump(b []byte, toks []token.Token) []byte {
	for _, t := range toks {
		if t.Kind == token.EOF {
			break
		}

		b = fmt.Appendf(b, "%v %v\n", t.Kind, t.Text)
	}

	return b
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
