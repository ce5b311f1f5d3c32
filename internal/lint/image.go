package lint

import (
	"bytes"
	"context"
	"encoding/xml"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// Image checks that raster images decode and SVG files are XML documents
// with an <svg> root.
type Image struct{}

func (Image) Lint(ctx context.Context, files []string) ([]Violation, error) {
	var out []Violation
	for _, f := range files {
		src, err := readFile(ctx, f)
		if err != nil {
			return nil, err
		}
		if msg := checkImage(f, src); msg != "" {
			out = append(out, Violation{File: f, Rule: "image-valid", Severity: SeverityError, Message: msg})
		}
	}
	return out, nil
}

func checkImage(file string, src []byte) string {
	if strings.EqualFold(filepath.Ext(file), ".svg") {
		return checkSVG(src)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(src)); err != nil {
		return "cannot decode image: " + err.Error()
	}
	return ""
}

func checkSVG(src []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(src))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "svg document has no root element"
		}
		if err != nil {
			return "invalid svg: " + err.Error()
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local != "svg" {
				return "svg root element is <" + start.Name.Local + ">"
			}
			return ""
		}
	}
}
