package lint

import (
	"context"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Style applies a small stylelint-like rule set to SCSS/CSS sources:
// block-no-empty, color-no-invalid-hex and balanced braces.
type Style struct{}

func (Style) Lint(ctx context.Context, files []string) ([]Violation, error) {
	var out []Violation
	for _, f := range files {
		src, err := readFile(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, lintStyle(f, src)...)
	}
	return out, nil
}

type styleToken struct {
	tt   css.TokenType
	data string
	line int
}

func lintStyle(file string, src []byte) []Violation {
	var out []Violation
	add := func(line int, rule, msg string) {
		out = append(out, Violation{File: file, Line: line, Rule: rule, Severity: SeverityError, Message: msg})
	}
	toks := styleTokens(stripComments(src))

	var opened []int
	for i, tok := range toks {
		switch tok.tt {
		case css.LeftBraceToken:
			opened = append(opened, tok.line)
			if j := significant(toks, i+1); j < len(toks) && toks[j].tt == css.RightBraceToken {
				add(tok.line, "block-no-empty", "unexpected empty block")
			}
		case css.RightBraceToken:
			if len(opened) == 0 {
				add(tok.line, "syntax", "unexpected }")
				continue
			}
			opened = opened[:len(opened)-1]
		case css.HashToken:
			if !inValue(toks, i) {
				continue
			}
			if digits := tok.data[1:]; !validHex(digits) {
				add(tok.line, "color-no-invalid-hex", "unexpected invalid hex color \"#"+digits+"\"")
			}
		}
	}
	for _, line := range opened {
		add(line, "syntax", "unclosed block")
	}
	return out
}

// styleTokens lexes code, folding SCSS interpolations like #{$var} into a
// single identifier token.
func styleTokens(code []byte) []styleToken {
	l := css.NewLexer(parse.NewInputBytes(code))
	var raw []styleToken
	line := 1
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}
		raw = append(raw, styleToken{tt: tt, data: string(data), line: line})
		line += strings.Count(string(data), "\n")
	}

	out := make([]styleToken, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		if tok.tt != css.DelimToken || tok.data != "#" || i+1 >= len(raw) || raw[i+1].tt != css.LeftBraceToken {
			out = append(out, tok)
			continue
		}
		var b strings.Builder
		b.WriteString("#")
		depth := 0
		for i++; i < len(raw); i++ {
			b.WriteString(raw[i].data)
			if raw[i].tt == css.LeftBraceToken {
				depth++
			} else if raw[i].tt == css.RightBraceToken {
				if depth--; depth == 0 {
					break
				}
			}
		}
		out = append(out, styleToken{tt: css.IdentToken, data: b.String(), line: tok.line})
	}
	return out
}

// significant returns the index of the first token at or after i that is
// not whitespace or a comment.
func significant(toks []styleToken, i int) int {
	for i < len(toks) && (toks[i].tt == css.WhitespaceToken || toks[i].tt == css.CommentToken) {
		i++
	}
	return i
}

// inValue reports whether the hash token at i sits in a declaration value
// rather than in a selector or an @extend.
func inValue(toks []styleToken, i int) bool {
	for j := i - 1; j >= 0; j-- {
		if tt := toks[j].tt; tt == css.LeftBraceToken || tt == css.RightBraceToken || tt == css.SemicolonToken {
			break
		}
		if toks[j].tt == css.AtKeywordToken && toks[j].data == "@extend" {
			return false
		}
	}
	for _, tok := range toks[i+1:] {
		switch tok.tt {
		case css.LeftBraceToken:
			return false
		case css.SemicolonToken, css.RightBraceToken:
			return true
		}
	}
	return false
}

func validHex(digits string) bool {
	switch len(digits) {
	case 3, 4, 6, 8:
	default:
		return false
	}
	for _, c := range digits {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// stripComments blanks out /* */ and // comments outside strings, keeping
// offsets and newlines.
func stripComments(src []byte) []byte {
	out := []byte(string(src))
	s := string(src)
	quote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote || c == '\n' {
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			stop := len(s)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			blank(out, i, stop)
			i = stop - 1
		case strings.HasPrefix(s[i:], "//") && (i == 0 || (s[i-1] != ':' && s[i-1] != '(')):
			stop := strings.IndexByte(s[i:], '\n')
			if stop < 0 {
				stop = len(s)
			} else {
				stop += i
			}
			blank(out, i, stop)
			i = stop - 1
		}
	}
	return out
}

func blank(b []byte, from, to int) {
	for i := from; i < to; i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
}
