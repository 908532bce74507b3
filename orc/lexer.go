package orc

import (
	"strconv"
	"strings"

	"github.com/vsariola/kantele"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokNumber
	tokString
	tokPunct // one of , = + - * / ( )
)

type token struct {
	kind      tokenKind
	text      string
	num       float64
	line, col int
}

// lexer splits orchestra text into tokens. Line and column numbers are
// 1-based and refer to the text as a whole, so errors in a section of a
// .csd file point to the right line of the file.
type lexer struct {
	src       string
	pos       int
	line, col int
}

func newLexer(src string, firstLine int) *lexer {
	return &lexer{src: src, line: firstLine, col: 1}
}

func (l *lexer) peekByte(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *lexer) advance() {
	if l.src[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// skip skips spaces and comments, but not newlines.
func (l *lexer) skip() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.advance()
		case c == ';' || (c == '/' && l.peekByte(1) == '/'):
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance()
			}
		case c == '/' && l.peekByte(1) == '*':
			line, col := l.line, l.col
			l.advance()
			l.advance()
			for {
				if l.pos >= len(l.src) {
					return kantele.Errorf(line, col, "unterminated comment")
				}
				if l.src[l.pos] == '*' && l.peekByte(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		case c == '\\' && l.peekByte(1) == '\n':
			l.advance()
			l.advance()
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skip(); err != nil {
		return token{}, err
	}
	t := token{line: l.line, col: l.col}
	if l.pos >= len(l.src) {
		t.kind = tokEOF
		return t, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '\n':
		l.advance()
		t.kind, t.text = tokNewline, "\n"
	case strings.HasPrefix(l.src[l.pos:], "0dbfs") && !isIdentByte(l.peekByte(5)):
		for i := 0; i < 5; i++ {
			l.advance()
		}
		t.kind, t.text = tokIdent, "0dbfs"
	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.advance()
		}
		if e := l.peekByte(0); e == 'e' || e == 'E' {
			s := l.peekByte(1)
			if isDigit(s) || ((s == '+' || s == '-') && isDigit(l.peekByte(2))) {
				l.advance()
				l.advance()
				for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
					l.advance()
				}
			}
		}
		if l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
				l.advance()
			}
			return t, kantele.Errorf(t.line, t.col, "malformed number %q", l.src[start:l.pos])
		}
		t.kind, t.text = tokNumber, l.src[start:l.pos]
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return t, kantele.Errorf(t.line, t.col, "malformed number %q", t.text)
		}
		t.num = v
	case isLetter(c):
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.advance()
		}
		t.kind, t.text = tokIdent, l.src[start:l.pos]
	case c == '"':
		l.advance()
		for l.pos < len(l.src) && l.src[l.pos] != '"' && l.src[l.pos] != '\n' {
			l.advance()
		}
		if l.pos >= len(l.src) || l.src[l.pos] != '"' {
			return t, kantele.Errorf(t.line, t.col, "unterminated string")
		}
		l.advance()
		t.kind, t.text = tokString, l.src[start+1:l.pos-1]
	case strings.IndexByte(",=+-*/()", c) >= 0:
		l.advance()
		t.kind, t.text = tokPunct, string(c)
	default:
		l.advance()
		return t, kantele.Errorf(t.line, t.col, "unexpected character %q", c)
	}
	return t, nil
}

func isIdentByte(c byte) bool {
	return isLetter(c) || isDigit(c)
}

// tokenize returns all tokens of the source, ending with tokEOF.
func tokenize(src string, firstLine int) ([]token, error) {
	l := newLexer(src, firstLine)
	var ret []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		ret = append(ret, t)
		if t.kind == tokEOF {
			return ret, nil
		}
	}
}
