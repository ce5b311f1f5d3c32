package transform

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CriticalAttr marks a stylesheet link whose CSS is inlined into the page.
const CriticalAttr = "priority"

// ProgressiveCSS rewrites the stylesheet links of an HTML document so they
// stop blocking the first render. Links marked priority="critical" are
// replaced by a <style> with the file read from base. Every other local
// stylesheet is fetched with XHR by a loader script at the end of <body>,
// with a <noscript> fallback carrying the original links.
func ProgressiveCSS(src []byte, base string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	var links []*html.Node
	var body *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Body:
				body = n
			case atom.Link:
				if isStylesheet(n) {
					links = append(links, n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(links) == 0 {
		return src, nil
	}

	var deferred []string
	for _, l := range links {
		href := attr(l, "href")
		if href == "" || isRemote(href) {
			continue
		}
		if attr(l, CriticalAttr) == "critical" {
			css, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(localPath(href))))
			if err != nil {
				return nil, errors.Wrapf(err, "inline critical css %s", href)
			}
			style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
			style.AppendChild(&html.Node{Type: html.TextNode, Data: string(css)})
			l.Parent.InsertBefore(style, l)
			l.Parent.RemoveChild(l)
			continue
		}
		deferred = append(deferred, href)
		l.Parent.RemoveChild(l)
	}

	if len(deferred) > 0 && body != nil {
		noscript := &html.Node{Type: html.ElementNode, Data: "noscript", DataAtom: atom.Noscript}
		for _, href := range deferred {
			noscript.AppendChild(&html.Node{Type: html.ElementNode, Data: "link", DataAtom: atom.Link, Attr: []html.Attribute{
				{Key: "rel", Val: "stylesheet"},
				{Key: "href", Val: href},
			}})
		}
		body.AppendChild(noscript)

		hrefs, err := json.Marshal(deferred)
		if err != nil {
			return nil, err
		}
		script := &html.Node{Type: html.ElementNode, Data: "script", DataAtom: atom.Script}
		script.AppendChild(&html.Node{Type: html.TextNode, Data: loaderScript(string(hrefs))})
		body.AppendChild(script)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, errors.Wrap(err, "render html")
	}
	return out.Bytes(), nil
}

func loaderScript(hrefs string) string {
	return "(function(l){l.forEach(function(u){var x=new XMLHttpRequest();x.open('GET',u);" +
		"x.onload=function(){var s=document.createElement('style');s.textContent=x.responseText;document.head.appendChild(s)};" +
		"x.send()})})(" + hrefs + ");"
}

func isStylesheet(n *html.Node) bool {
	for _, rel := range strings.Fields(strings.ToLower(attr(n, "rel"))) {
		if rel == "stylesheet" {
			return true
		}
	}
	return false
}

func isRemote(href string) bool {
	h := strings.ToLower(href)
	return strings.HasPrefix(h, "//") || strings.Contains(h, "://") || strings.HasPrefix(h, "data:")
}

// localPath strips the query and fragment of href and any leading slash.
func localPath(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return strings.TrimPrefix(href, "/")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
