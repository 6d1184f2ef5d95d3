// Package annotate draws detection boxes and captions onto images.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hydroguard/pestwatch/internal/detector"
)

const (
	// Thickness of box edges in pixels.
	Thickness = 3
	// CaptionOffset is the gap between the caption baseline and the box top.
	CaptionOffset = 10
	// JPEGQuality is used for annotated output.
	JPEGQuality = 90
)

// BoxColor is the stroke and caption color.
var BoxColor = color.RGBA{R: 255, A: 255}

var face = basicfont.Face7x13

// Caption formats a detection as "<label> <score%>%", e.g. "ulat 91.25%".
func Caption(d detector.Detection) string {
	return fmt.Sprintf("%s %.2f%%", d.Label, d.Score*100)
}

// Draw returns an RGBA copy of src with every detection outlined and captioned.
// src is not modified.
func Draw(src image.Image, dets []detector.Detection) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	fill := image.NewUniform(BoxColor)
	for _, d := range dets {
		r := image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3]).Intersect(bounds)
		if r.Empty() {
			continue
		}
		strokeRect(dst, r, fill)
		drawCaption(dst, r, Caption(d), fill)
	}
	return dst
}

// strokeRect paints the four edges of r inward by Thickness pixels.
func strokeRect(dst *image.RGBA, r image.Rectangle, src image.Image) {
	t := min(Thickness, r.Dx(), r.Dy())
	edges := [4]image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawCaption writes text with its baseline CaptionOffset pixels above the box.
// When that would leave the image, the caption moves just inside the box top.
func drawCaption(dst *image.RGBA, box image.Rectangle, text string, src image.Image) {
	ascent := face.Metrics().Ascent.Ceil()
	baseline := box.Min.Y - CaptionOffset
	if baseline-ascent < dst.Bounds().Min.Y {
		baseline = box.Min.Y + Thickness + ascent
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot:  fixed.P(box.Min.X, baseline),
	}
	d.DrawString(text)
}

// EncodeJPEG draws dets onto src and returns the JPEG bytes.
func EncodeJPEG(src image.Image, dets []detector.Detection) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Draw(src, dets), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}
