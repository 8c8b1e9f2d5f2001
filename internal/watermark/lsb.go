package watermark

import (
	"image"

	"github.com/andresmejia3/facemark/internal/bits"
)

// LSB forces the least significant bit of each colour byte (R, G, B, in
// row-major pixel order) to the next marker bit. Alpha is never a carrier.
type LSB struct{}

func (LSB) Kind() Kind { return KindLSB }

func (LSB) Capacity(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy() * 3
}

func (a LSB) Embed(img *image.RGBA, r image.Rectangle) error {
	r, err := clip(a, img, r)
	if err != nil {
		return err
	}
	i := 0
	lsbCarriers(img, r, func(off int) bool {
		img.Pix[off] = img.Pix[off]&^1 | markerBits[i]
		i++
		return i < len(markerBits)
	})
	return nil
}

func (a LSB) Extract(img *image.RGBA, r image.Rectangle) (string, error) {
	r, err := clip(a, img, r)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, len(markerBits))
	lsbCarriers(img, r, func(off int) bool {
		out = append(out, img.Pix[off]&1)
		return len(out) < len(markerBits)
	})
	return bits.ToString(out)
}

// lsbCarriers visits the Pix offset of every colour byte in r until fn returns false.
func lsbCarriers(img *image.RGBA, r image.Rectangle, fn func(off int) bool) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			base := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				if !fn(base + c) {
					return
				}
			}
		}
	}
}
