package lang

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// lexer turns a whole source buffer into tokens in one pass.
//
// Indentation is measured at the start of every logical line that is not
// blank or comment-only. Inside brackets newlines and indentation are
// insignificant.
type lexer struct {
	src      string
	filename string
	lines    []string

	pos  int
	line int
	col  int

	depth   int
	indents []int
	toks    []Token

	atLineStart  bool
	lineHasToken bool
	continued    bool
}

// Tokenize splits src into tokens. The token stream always ends with
// NEWLINE (if the last line had tokens), the DEDENTs needed to close open
// blocks, and EOF.
func Tokenize(src, filename string) ([]Token, error) {
	lx := &lexer{
		src:         src,
		filename:    filename,
		lines:       strings.Split(src, "\n"),
		line:        1,
		col:         1,
		indents:     []int{0},
		atLineStart: true,
	}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

func (lx *lexer) errorf(pending Pending, line, col int, msg string) *SyntaxError {
	text := ""
	if line-1 >= 0 && line-1 < len(lx.lines) {
		text = lx.lines[line-1]
	}
	return &SyntaxError{
		Msg:      msg,
		Filename: lx.filename,
		Line:     line,
		Col:      col,
		Text:     text,
		Pending:  pending,
	}
}

func (lx *lexer) emit(kind TokenKind, text string, line, col int) {
	lx.toks = append(lx.toks, Token{Kind: kind, Text: text, Line: line, Col: col})
	if kind != TokIndent && kind != TokDedent && kind != TokNewline {
		lx.lineHasToken = true
	}
}

func (lx *lexer) peek() rune {
	if lx.pos >= len(lx.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.pos:])
	return r
}

func (lx *lexer) peekAt(offset int) byte {
	if lx.pos+offset >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+offset]
}

func (lx *lexer) advance() rune {
	r, n := utf8.DecodeRuneInString(lx.src[lx.pos:])
	lx.pos += n
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) run() error {
	for {
		if lx.atLineStart && lx.depth == 0 && !lx.continued {
			if err := lx.indentation(); err != nil {
				return err
			}
		}
		lx.atLineStart = false
		lx.continued = false

		r := lx.peek()
		switch {
		case r == -1:
			return lx.finish()
		case r == '\n':
			lx.advance()
			if lx.depth == 0 {
				if lx.lineHasToken {
					lx.emit(TokNewline, "", lx.line-1, 0)
				}
				lx.lineHasToken = false
			}
			lx.atLineStart = true
		case r == ' ' || r == '\t' || r == '\r' || r == '\f':
			lx.advance()
		case r == '#':
			for lx.peek() != '\n' && lx.peek() != -1 {
				lx.advance()
			}
		case r == '\\':
			line, col := lx.line, lx.col
			lx.advance()
			if lx.peek() == -1 {
				return lx.errorf(PendingBracket, line, col, "unexpected EOF while parsing")
			}
			if lx.peek() == '\r' {
				lx.advance()
			}
			if lx.peek() != '\n' {
				return lx.errorf(PendingNone, line, col, "unexpected character after line continuation character")
			}
			lx.advance()
			lx.continued = true
			if lx.peek() == -1 {
				return lx.errorf(PendingBracket, line, col, "unexpected EOF while parsing")
			}
		case r == '"' || r == '\'':
			if err := lx.stringLit(); err != nil {
				return err
			}
		case r < utf8.RuneSelf && r >= '0' && r <= '9', r == '.' && isDigit(lx.peekAt(1)):
			if err := lx.number(); err != nil {
				return err
			}
		case r == '_' || unicode.IsLetter(r):
			lx.name()
		default:
			if err := lx.operator(); err != nil {
				return err
			}
		}
	}
}

// indentation consumes leading whitespace of a logical line and emits
// INDENT/DEDENT tokens.
func (lx *lexer) indentation() error {
	for {
		width := 0
		for lx.pos < len(lx.src) {
			c := lx.src[lx.pos]
			if c == ' ' {
				width++
			} else if c == '\t' {
				width = (width/8 + 1) * 8
			} else if c == '\f' || c == '\r' {
				// ignored
			} else {
				break
			}
			lx.pos++
			lx.col++
		}
		if lx.pos >= len(lx.src) {
			return nil
		}
		c := lx.src[lx.pos]
		if c == '\n' || c == '#' {
			// blank or comment-only line: no indentation bookkeeping
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			if lx.pos < len(lx.src) {
				lx.pos++
				lx.line++
				lx.col = 1
			}
			if lx.pos >= len(lx.src) {
				return nil
			}
			continue
		}
		cur := lx.indents[len(lx.indents)-1]
		switch {
		case width > cur:
			lx.indents = append(lx.indents, width)
			lx.emit(TokIndent, "", lx.line, lx.col)
		case width < cur:
			for width < lx.indents[len(lx.indents)-1] {
				lx.indents = lx.indents[:len(lx.indents)-1]
				lx.emit(TokDedent, "", lx.line, lx.col)
			}
			if width != lx.indents[len(lx.indents)-1] {
				return lx.errorf(PendingNone, lx.line, lx.col, "unindent does not match any outer indentation level")
			}
		}
		return nil
	}
}

func (lx *lexer) finish() error {
	if lx.depth > 0 {
		return lx.errorf(PendingBracket, lx.line, lx.col, "unexpected EOF while parsing")
	}
	if lx.lineHasToken {
		lx.emit(TokNewline, "", lx.line, lx.col)
		lx.lineHasToken = false
	}
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emit(TokDedent, "", lx.line, lx.col)
	}
	lx.emit(TokEOF, "", lx.line, lx.col)
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (lx *lexer) number() error {
	line, col := lx.line, lx.col
	start := lx.pos
	if lx.peek() == '0' && (lx.peekAt(1) == 'x' || lx.peekAt(1) == 'X') {
		lx.advance()
		lx.advance()
		for isHexDigit(lx.peek()) {
			lx.advance()
		}
		text := lx.src[start:lx.pos]
		if _, err := strconv.ParseInt(text[2:], 16, 64); err != nil {
			return lx.errorf(PendingNone, line, col, "invalid hexadecimal literal")
		}
		lx.emit(TokInt, text, line, col)
		return nil
	}
	isFloat := false
	for lx.pos < len(lx.src) && (isDigit(lx.src[lx.pos]) || lx.src[lx.pos] == '_') {
		lx.advance()
	}
	if lx.peek() == '.' && lx.peekAt(1) != '.' {
		isFloat = true
		lx.advance()
		for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
			lx.advance()
		}
	}
	if r := lx.peek(); r == 'e' || r == 'E' {
		next := lx.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(lx.peekAt(2))) {
			isFloat = true
			lx.advance()
			if lx.peek() == '+' || lx.peek() == '-' {
				lx.advance()
			}
			for lx.pos < len(lx.src) && isDigit(lx.src[lx.pos]) {
				lx.advance()
			}
		}
	}
	if r := lx.peek(); r == '_' || unicode.IsLetter(r) {
		return lx.errorf(PendingNone, line, col, "invalid decimal literal")
	}
	text := strings.ReplaceAll(lx.src[start:lx.pos], "_", "")
	if isFloat {
		lx.emit(TokFloat, text, line, col)
	} else {
		lx.emit(TokInt, text, line, col)
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func (lx *lexer) name() {
	line, col := lx.line, lx.col
	start := lx.pos
	for {
		r := lx.peek()
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			lx.advance()
			continue
		}
		break
	}
	text := norm.NFKC.String(lx.src[start:lx.pos])
	if keywords[text] {
		lx.emit(TokKeyword, text, line, col)
		return
	}
	lx.emit(TokName, text, line, col)
}

func (lx *lexer) stringLit() error {
	line, col := lx.line, lx.col
	quote := lx.advance()
	var b strings.Builder
	for {
		r := lx.peek()
		switch r {
		case -1, '\n':
			return lx.errorf(PendingNone, line, col, "unterminated string literal")
		case quote:
			lx.advance()
			lx.emit(TokString, b.String(), line, col)
			return nil
		case '\\':
			lx.advance()
			esc := lx.peek()
			if esc == -1 {
				return lx.errorf(PendingNone, line, col, "unterminated string literal")
			}
			lx.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '\\', '\'', '"':
				b.WriteRune(esc)
			case '\n':
				// escaped newline inside a string joins lines
			case 'x':
				v, err := lx.hexEscape(2)
				if err != nil {
					return lx.errorf(PendingNone, line, col, "truncated \\xXX escape")
				}
				b.WriteRune(rune(v))
			case 'u':
				v, err := lx.hexEscape(4)
				if err != nil {
					return lx.errorf(PendingNone, line, col, "truncated \\uXXXX escape")
				}
				b.WriteRune(rune(v))
			default:
				b.WriteByte('\\')
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(lx.advance())
		}
	}
}

func (lx *lexer) hexEscape(n int) (int64, error) {
	if lx.pos+n > len(lx.src) {
		return 0, strconv.ErrSyntax
	}
	v, err := strconv.ParseInt(lx.src[lx.pos:lx.pos+n], 16, 32)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		lx.advance()
	}
	return v, nil
}

func (lx *lexer) operator() error {
	line, col := lx.line, lx.col
	rest := lx.src[lx.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range op {
				lx.advance()
			}
			switch op {
			case "(", "[", "{":
				lx.depth++
			case ")", "]", "}":
				if lx.depth == 0 {
					return lx.errorf(PendingNone, line, col, "unmatched '"+op+"'")
				}
				lx.depth--
			}
			lx.emit(TokOp, op, line, col)
			return nil
		}
	}
	r := lx.peek()
	return lx.errorf(PendingNone, line, col, "invalid character '"+string(r)+"'")
}
