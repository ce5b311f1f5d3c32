package lint

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Elements without end tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Elements whose end tag may be omitted.
var optionalEnd = map[string]bool{
	"html": true, "head": true, "body": true, "p": true, "li": true,
	"dt": true, "dd": true, "option": true, "optgroup": true, "tr": true,
	"td": true, "th": true, "thead": true, "tbody": true, "tfoot": true,
	"colgroup": true, "rt": true, "rp": true,
}

// HTML checks documents for a leading doctype, alt text on images, unique
// ids and balanced tags.
type HTML struct{}

func (HTML) Lint(ctx context.Context, files []string) ([]Violation, error) {
	var out []Violation
	for _, f := range files {
		src, err := readFile(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, lintHTML(f, src)...)
	}
	return out, nil
}

type openTag struct {
	name string
	line int
}

func lintHTML(file string, src []byte) []Violation {
	var out []Violation
	add := func(line int, rule, msg string) {
		out = append(out, Violation{File: file, Line: line, Rule: rule, Severity: SeverityError, Message: msg})
	}

	z := html.NewTokenizer(bytes.NewReader(src))
	offset := 0
	sawDoctype := false
	sawElement := false
	ids := map[string]int{}
	var stack []openTag

	for {
		tt := z.Next()
		line := lineAt(src, offset)
		offset += len(z.Raw())
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				add(line, "parse", z.Err().Error())
			}
			break
		}
		switch tt {
		case html.DoctypeToken:
			if !sawElement {
				sawDoctype = true
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if !sawElement && !sawDoctype {
				add(line, "doctype-first", "doctype must be declared first")
			}
			sawElement = true
			for _, a := range tok.Attr {
				if a.Key != "id" {
					continue
				}
				if prev, dup := ids[a.Val]; dup {
					add(line, "id-unique", "id \""+a.Val+"\" already used on line "+strconv.Itoa(prev))
				} else {
					ids[a.Val] = line
				}
			}
			if tok.Data == "img" && !hasAttr(tok, "alt") {
				add(line, "img-alt-require", "img element must have an alt attribute")
			}
			if tt == html.StartTagToken && !voidElements[tok.Data] {
				stack = append(stack, openTag{name: tok.Data, line: line})
			}
		case html.EndTagToken:
			tok := z.Token()
			if voidElements[tok.Data] {
				continue
			}
			i := len(stack) - 1
			for i >= 0 && stack[i].name != tok.Data {
				i--
			}
			if i < 0 {
				add(line, "tag-pair", "unexpected closing tag </"+tok.Data+">")
				continue
			}
			for _, open := range stack[i+1:] {
				if !optionalEnd[open.name] {
					add(open.line, "tag-pair", "tag <"+open.name+"> is not closed")
				}
			}
			stack = stack[:i]
		}
	}
	for _, open := range stack {
		if !optionalEnd[open.name] {
			add(open.line, "tag-pair", "tag <"+open.name+"> is not closed")
		}
	}
	return out
}

func hasAttr(tok html.Token, key string) bool {
	for _, a := range tok.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}
