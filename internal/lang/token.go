package lang

import "fmt"

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokNewline
	TokIndent
	TokDedent
	TokName
	TokKeyword
	TokInt
	TokFloat
	TokString
	TokOp
)

var tokenKindNames = map[TokenKind]string{
	TokEOF:     "EOF",
	TokNewline: "NEWLINE",
	TokIndent:  "INDENT",
	TokDedent:  "DEDENT",
	TokName:    "NAME",
	TokKeyword: "KEYWORD",
	TokInt:     "INT",
	TokFloat:   "FLOAT",
	TokString:  "STRING",
	TokOp:      "OP",
}

func (k TokenKind) String() string {
	if s, ok := tokenKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is a lexical token. Text holds the decoded value for strings and the
// literal spelling for everything else.
type Token struct {
	Kind TokenKind
	Text string
	Line int
	Col  int
}

func (t Token) String() string {
	switch t.Kind {
	case TokEOF, TokNewline, TokIndent, TokDedent:
		return t.Kind.String()
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

var keywords = map[string]bool{
	"and": true, "as": true, "assert": true, "break": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true,
	"finally": true, "for": true, "global": true, "if": true, "in": true,
	"is": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true,
	"True": true, "False": true, "None": true,
}

// operators are matched longest first.
var operators = []string{
	"**=", "//=",
	"**", "//", "==", "!=", "<=", ">=", "+=", "-=", "*=", "/=", "%=",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", "{", "}",
	",", ":", ".", ";",
}
