// Package transform holds the adapters around the tools that actually
// rewrite assets: minifiers, the Sass compiler, the image converter and the
// script bundler.
package transform

import (
	"bytes"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// ReplaceVersion replaces every occurrence of token with the Unix
// millisecond timestamp of t.
func ReplaceVersion(src []byte, token string, t time.Time) []byte {
	if token == "" {
		return src
	}
	return bytes.ReplaceAll(src, []byte(token), []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

// HTMLMinifier collapses whitespace and drops comments while keeping the
// document structure intact.
type HTMLMinifier struct {
	m *minify.M
}

// NewHTMLMinifier creates a minifier.
func NewHTMLMinifier() *HTMLMinifier {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return &HTMLMinifier{m: m}
}

// Minify returns the minified document.
func (h *HTMLMinifier) Minify(src []byte) ([]byte, error) {
	out, err := h.m.Bytes("text/html", src)
	if err != nil {
		return nil, errors.Wrap(err, "minify html")
	}
	return out, nil
}
