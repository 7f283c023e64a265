package geotag

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Stamp composites a small label box (tag, postcode, date) into the bottom-left
// corner of the JPEG at path, rewriting the file in place. Re-encoding drops
// any existing EXIF block, so Stamp must run before EmbedLocation.
func (w *Writer) Stamp(path, label string) error {
	if label == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	src, err := jpeg.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, ErrUnsupportedImage)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	pad := 6
	textWidth := font.MeasureString(face, label).Ceil()
	boxH := face.Metrics().Height.Ceil() + 2*pad
	boxW := textWidth + 2*pad
	if boxW > bounds.Dx() {
		boxW = bounds.Dx()
	}

	box := image.Rect(bounds.Min.X, bounds.Max.Y-boxH, bounds.Min.X+boxW, bounds.Max.Y)
	draw.Draw(canvas, box, &image.Uniform{color.RGBA{0, 0, 0, 160}}, image.Point{}, draw.Over)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.P(
			bounds.Min.X+pad,
			bounds.Max.Y-pad-face.Metrics().Descent.Ceil(),
		),
	}
	drawer.DrawString(label)

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	if err := jpeg.Encode(out, canvas, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return out.Close()
}
