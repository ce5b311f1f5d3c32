package transform

import (
	"context"
	"strconv"
)

// ImageConverter writes a converted copy of src to dst.
type ImageConverter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Cwebp converts images to WebP with the cwebp tool.
type Cwebp struct {
	Bin     string
	Quality int
}

// NewCwebp returns a converter using bin (default "cwebp") at quality 80.
func NewCwebp(bin string) *Cwebp {
	if bin == "" {
		bin = "cwebp"
	}
	return &Cwebp{Bin: bin, Quality: 80}
}

func (c *Cwebp) Convert(ctx context.Context, src, dst string) error {
	_, err := runTool(ctx, "cwebp", c.Bin, "-quiet", "-q", strconv.Itoa(c.Quality), src, "-o", dst)
	return err
}
