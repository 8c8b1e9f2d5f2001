// Package annotate draws detected face boxes onto copies of the frames so a
// detection run can be inspected by eye.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style controls box and label rendering.
type Style struct {
	Box       color.RGBA
	Text      color.RGBA
	Thickness int
}

// DefaultStyle is a green box with a red "face<N>" label.
var DefaultStyle = Style{
	Box:       color.RGBA{G: 255, A: 255},
	Text:      color.RGBA{R: 255, A: 255},
	Thickness: 2,
}

// Frames loads and saves frames by name.
type Frames interface {
	Load(name string) (*image.RGBA, error)
	Save(name string, img *image.RGBA) error
}

// Draw outlines each face on img and labels it below the box, or inside the
// box when the label would fall off the frame.
func Draw(img *image.RGBA, faces []facemap.Face, s Style) {
	b := img.Bounds()
	face := basicfont.Face7x13
	metrics := face.Metrics()
	textH := (metrics.Ascent + metrics.Descent).Ceil()

	for _, f := range faces {
		r := f.Box.Rect().Intersect(b)
		if r.Empty() {
			continue
		}
		outline(img, r, s.Box, s.Thickness)

		label := fmt.Sprintf("face%d", f.Index)
		baseline := r.Max.Y + textH + 4
		if baseline > b.Max.Y {
			baseline = r.Max.Y - 4
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(s.Text),
			Face: face,
			Dot:  fixed.P(r.Min.X, baseline),
		}
		d.DrawString(label)
	}
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA, t int) {
	t = max(t, 1)
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// Folder draws fm onto every frame read from src and writes the result to dst
// under the same name. src is never modified. It returns the number of frames written.
func Folder(src, dst Frames, fm *facemap.FaceMap, s Style, onProgress func(done int)) (int, error) {
	var (
		done int
		err  error
	)
	fm.Each(func(name string, faces []facemap.Face) bool {
		var img *image.RGBA
		if img, err = src.Load(name); err != nil {
			return false
		}
		Draw(img, faces, s)
		if err = dst.Save(name, img); err != nil {
			return false
		}
		done++
		if onProgress != nil {
			onProgress(done)
		}
		return true
	})
	if err != nil {
		return done, err
	}
	logrus.WithFields(logrus.Fields{"frames": done, "faces": fm.Regions()}).Info("Frames annotated")
	return done, nil
}
