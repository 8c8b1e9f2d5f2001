package watermark

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facemark/internal/bits"
)

// haar2 holds the four single-level subband coefficients of one 2x2 pixel block.
// The transform is the integer lifting form of the Haar wavelet, so it
// reconstructs 8-bit pixels exactly.
type haar2 struct {
	ll, h, v, d int // approximation, horizontal, vertical and diagonal detail
}

// haarForward transforms the block [[a, b], [c, e]].
func haarForward(a, b, c, e int) haar2 {
	dTop, dBot := b-a, e-c
	sTop, sBot := a+dTop>>1, c+dBot>>1

	h := sBot - sTop
	dd := dBot - dTop
	return haar2{
		ll: sTop + h>>1,
		h:  h,
		v:  dTop + dd>>1,
		d:  dd,
	}
}

// haarInverse returns the block [a, b, c, e] for k.
func haarInverse(k haar2) (a, b, c, e int) {
	sTop := k.ll - k.h>>1
	sBot := k.h + sTop
	dTop := k.v - k.d>>1
	dBot := k.d + dTop

	a = sTop - dTop>>1
	b = dTop + a
	c = sBot - dBot>>1
	e = dBot + c
	return a, b, c, e
}

// DWT hides one bit per horizontal-detail coefficient of a single-level Haar
// transform of the grayscale region, forcing the coefficient's parity. Other
// subbands are untouched. The region comes back gray on all three channels.
type DWT struct{}

func (DWT) Kind() Kind { return KindDWT }

func (DWT) Capacity(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return (r.Dx() / 2) * (r.Dy() / 2)
}

func (a DWT) Embed(img *image.RGBA, r image.Rectangle) error {
	r, err := clip(a, img, r)
	if err != nil {
		return err
	}
	w := r.Dx()
	gray := grayOf(img, r)
	for i, bit := range markerBits {
		x, y := dwtOrigin(i, w)
		if !embedDWTCoefficient(gray, w, x, y, bit) {
			return fmt.Errorf("%w: dwt block at (%d,%d) saturated", ErrCapacity, r.Min.X+x, r.Min.Y+y)
		}
	}
	putGray(img, r, gray)
	return nil
}

func (a DWT) Extract(img *image.RGBA, r image.Rectangle) (string, error) {
	r, err := clip(a, img, r)
	if err != nil {
		return "", err
	}
	w := r.Dx()
	gray := grayOf(img, r)
	out := make([]byte, len(markerBits))
	for i := range out {
		x, y := dwtOrigin(i, w)
		out[i] = byte(loadHaar(gray, w, x, y).h & 1)
	}
	return bits.ToString(out)
}

// dwtOrigin returns the top-left pixel of the i-th coefficient's 2x2 block,
// scanning the subband in row-major order.
func dwtOrigin(i, w int) (x, y int) {
	perRow := w / 2
	return (i % perRow) * 2, (i / perRow) * 2
}

func loadHaar(gray []uint8, w, x, y int) haar2 {
	top, bot := y*w+x, (y+1)*w+x
	return haarForward(int(gray[top]), int(gray[top+1]), int(gray[bot]), int(gray[bot+1]))
}

// embedDWTCoefficient forces the parity of one coefficient. It reports false
// when every candidate value would push a pixel outside 0..255.
func embedDWTCoefficient(gray []uint8, w, x, y int, bit byte) bool {
	k := loadHaar(gray, w, x, y)
	want := k.h&^1 | int(bit)
	if want == k.h {
		return true
	}
	// Prefer the forced value, then the other parity-correct neighbours,
	// whichever keeps every pixel inside 0..255.
	step := want - k.h
	for _, h := range []int{want, k.h - step, k.h + 3*step, k.h - 3*step} {
		trial := k
		trial.h = h
		a, b, c, e := haarInverse(trial)
		if in8(a) && in8(b) && in8(c) && in8(e) {
			top, bot := y*w+x, (y+1)*w+x
			gray[top], gray[top+1] = uint8(a), uint8(b)
			gray[bot], gray[bot+1] = uint8(c), uint8(e)
			return true
		}
	}
	return false
}

func in8(v int) bool { return v >= 0 && v <= 255 }
