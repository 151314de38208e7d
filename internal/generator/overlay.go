package generator

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

// Box colors follow the threat thresholds.
var (
	colSafe      = color.RGBA{80, 220, 100, 255}
	colPotential = color.RGBA{245, 200, 66, 255}
	colConfirmed = color.RGBA{235, 64, 52, 255}
	colHUD       = color.RGBA{210, 230, 235, 255}
)

// renderer rasterizes frames into base64-encoded JPEG stills. The
// canvas is reused across frames; a renderer belongs to exactly one
// generator and is not safe for concurrent use.
type renderer struct {
	canvas  *image.RGBA
	quality int
}

func newRenderer(w, h, quality int) *renderer {
	return &renderer{
		canvas:  image.NewRGBA(image.Rect(0, 0, w, h)),
		quality: quality,
	}
}

func (r *renderer) render(f *telemetry.Frame) (string, error) {
	r.drawBackground(f)
	for i := range f.Detections {
		r.drawDetection(&f.Detections[i])
	}
	r.drawHUD(f)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.canvas, &jpeg.Options{Quality: r.quality}); err != nil {
		return "", fmt.Errorf("jpeg encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// drawBackground paints a depth gradient dimmed by visibility, with a
// slow band drift keyed to the sequence number so consecutive frames
// visibly differ.
func (r *renderer) drawBackground(f *telemetry.Frame) {
	b := r.canvas.Bounds()
	phase := int(f.Sequence % 64)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		depth := float64(y-b.Min.Y) / float64(b.Dy())
		lum := (1 - 0.8*depth) * (0.35 + 0.65*f.VisibilityScore)
		if (y+phase)%48 < 3 {
			lum *= 1.12
			if lum > 1 {
				lum = 1
			}
		}
		cr := uint8(10 + 30*lum)
		cg := uint8(30 + 90*lum)
		cb := uint8(50 + 130*lum)

		i := r.canvas.PixOffset(b.Min.X, y)
		for x := 0; x < b.Dx(); x++ {
			pix := r.canvas.Pix[i : i+4 : i+4]
			pix[0], pix[1], pix[2], pix[3] = cr, cg, cb, 0xff
			i += 4
		}
	}
}

func (r *renderer) drawDetection(d *telemetry.Detection) {
	col := colSafe
	switch {
	case d.Confidence >= confirmedThreshold:
		col = colConfirmed
	case d.Confidence >= potentialThreshold:
		col = colPotential
	}

	box := image.Rect(d.BBox.X, d.BBox.Y, d.BBox.X+d.BBox.W, d.BBox.Y+d.BBox.H)
	box = box.Intersect(r.canvas.Bounds())
	if box.Empty() {
		return
	}
	r.drawRect(box, col)

	label := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
	y := box.Min.Y - 4
	if y < basicfont.Face7x13.Height {
		y = box.Min.Y + basicfont.Face7x13.Height
	}
	r.drawText(box.Min.X, y, label, col)
}

func (r *renderer) drawHUD(f *telemetry.Frame) {
	hud := fmt.Sprintf("SEQ %06d  %s  VIS %.2f", f.Sequence, f.State, f.VisibilityScore)
	r.drawText(8, 16, hud, colHUD)
}

func (r *renderer) drawRect(rect image.Rectangle, col color.RGBA) {
	for x := rect.Min.X; x < rect.Max.X; x++ {
		r.canvas.SetRGBA(x, rect.Min.Y, col)
		r.canvas.SetRGBA(x, rect.Max.Y-1, col)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		r.canvas.SetRGBA(rect.Min.X, y, col)
		r.canvas.SetRGBA(rect.Max.X-1, y, col)
	}
}

func (r *renderer) drawText(x, y int, s string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  r.canvas,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
