package script

import (
	"fmt"
	"strconv"
	"strings"
)

type TokenKind int

const (
	TokEOF TokenKind = iota
	TokName
	TokNumber
	TokString
	TokOp
)

type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

type Token struct {
	Kind TokenKind
	Text string
	Num  int64
	Pos  Pos
	End  int
}

func (t Token) Is(op string) bool {
	return (t.Kind == TokOp || t.Kind == TokName) && t.Text == op
}

func (t Token) String() string {
	switch t.Kind {
	case TokEOF:
		return "end of file"
	case TokString:
		return strconv.Quote(t.Text)
	}
	return "'" + t.Text + "'"
}

// Linker scripts need two lexical modes: in name mode a token such as
// "*(.text.*)" splits into the glob "*", "(", ".text.*" and ")", while in
// expression mode "-", "*" and "/" are operators.
type lexMode int

const (
	modeExpr lexMode = iota
	modeName
)

type lexer struct {
	file string
	src  string
	off  int
}

// multi-character operators, longest first
var operators = []string{
	"<<=", ">>=",
	"<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "&=", "|=",
	"+", "-", "*", "/", "%", "<", ">", "&", "^", "|", "!", "~",
	"?", ":", "=", "(", ")", "{", "}", ",", ";",
}

func isExprNameStart(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isExprNameChar(c byte) bool {
	return isExprNameStart(c) || (c >= '0' && c <= '9')
}

func isPatternChar(c byte) bool {
	if isExprNameChar(c) {
		return true
	}
	return strings.IndexByte("*?[]-+/\\~!^", c) >= 0
}

func (l *lexer) posAt(off int) Pos {
	line, col := 1, 1
	for i := 0; i < off && i < len(l.src); i++ {
		if l.src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return Pos{File: l.file, Line: line, Col: col}
}

func (l *lexer) skipSpace(off int) (int, error) {
	for off < len(l.src) {
		c := l.src[off]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			off++
		case c == '/' && off+1 < len(l.src) && l.src[off+1] == '*':
			end := strings.Index(l.src[off+2:], "*/")
			if end < 0 {
				return off, &SyntaxError{Pos: l.posAt(off), Msg: "unterminated comment"}
			}
			off += end + 4
		case c == '#':
			for off < len(l.src) && l.src[off] != '\n' {
				off++
			}
		default:
			return off, nil
		}
	}
	return off, nil
}

// scan returns the token starting at or after off without consuming it.
func (l *lexer) scan(off int, mode lexMode) (Token, error) {
	off, err := l.skipSpace(off)
	if err != nil {
		return Token{}, err
	}
	pos := l.posAt(off)
	if off >= len(l.src) {
		return Token{Kind: TokEOF, Pos: pos, End: off}, nil
	}

	c := l.src[off]
	if c == '"' {
		end := strings.IndexByte(l.src[off+1:], '"')
		if end < 0 {
			return Token{}, &SyntaxError{Pos: pos, Msg: "unterminated string"}
		}
		return Token{Kind: TokString, Text: l.src[off+1 : off+1+end], Pos: pos, End: off + end + 2}, nil
	}

	if mode == modeName && isPatternChar(c) {
		end := off
		for end < len(l.src) && isPatternChar(l.src[end]) {
			if l.src[end] == '/' && end+1 < len(l.src) && l.src[end+1] == '*' {
				break
			}
			end++
		}
		if end > off {
			return Token{Kind: TokName, Text: l.src[off:end], Pos: pos, End: end}, nil
		}
	}

	if c >= '0' && c <= '9' {
		end := off
		for end < len(l.src) && isExprNameChar(l.src[end]) {
			end++
		}
		text := l.src[off:end]
		n, err := parseNumber(text)
		if err != nil {
			return Token{}, &SyntaxError{Pos: pos, Msg: err.Error()}
		}
		return Token{Kind: TokNumber, Text: text, Num: n, Pos: pos, End: end}, nil
	}

	if isExprNameStart(c) {
		end := off
		for end < len(l.src) && isExprNameChar(l.src[end]) {
			end++
		}
		return Token{Kind: TokName, Text: l.src[off:end], Pos: pos, End: end}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[off:], op) {
			return Token{Kind: TokOp, Text: op, Pos: pos, End: off + len(op)}, nil
		}
	}
	return Token{}, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", c)}
}

// parseNumber accepts C-style prefixes and the K/M size suffixes.
func parseNumber(text string) (int64, error) {
	mult := int64(1)
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "0x") || len(lower) <= 2 {
		switch {
		case strings.HasSuffix(lower, "k"):
			mult = 1024
			text = text[:len(text)-1]
		case strings.HasSuffix(lower, "m"):
			mult = 1024 * 1024
			text = text[:len(text)-1]
		}
	}
	v, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", text)
	}
	return int64(v) * mult, nil
}
