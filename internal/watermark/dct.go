package watermark

import (
	"image"
	"math"

	"github.com/andresmejia3/facemark/internal/bits"
)

const (
	dctBlock = 8
	// dctStep is the quantisation step applied to the carrier coefficient.
	dctStep = 10.0
	// Carrier coefficient (row, column) inside each 8x8 block.
	dctRow = 4
	dctCol = 1
	// dctPasses bounds how often a block is re-embedded after clamping to 0..255.
	dctPasses = 4
)

// dctBasis[u][x] is the orthonormal DCT-II basis a(u)*cos((2x+1)u*pi/16).
var dctBasis = func() (t [dctBlock][dctBlock]float64) {
	for u := 0; u < dctBlock; u++ {
		a := math.Sqrt(2.0 / dctBlock)
		if u == 0 {
			a = math.Sqrt(1.0 / dctBlock)
		}
		for x := 0; x < dctBlock; x++ {
			t[u][x] = a * math.Cos(float64(2*x+1)*float64(u)*math.Pi/(2*dctBlock))
		}
	}
	return t
}()

type block8 [dctBlock][dctBlock]float64

// dct2 is the separable orthonormal 2-D DCT-II of b.
func dct2(b *block8) block8 {
	var tmp, out block8
	for y := 0; y < dctBlock; y++ {
		for v := 0; v < dctBlock; v++ {
			var s float64
			for x := 0; x < dctBlock; x++ {
				s += dctBasis[v][x] * b[y][x]
			}
			tmp[y][v] = s
		}
	}
	for u := 0; u < dctBlock; u++ {
		for v := 0; v < dctBlock; v++ {
			var s float64
			for y := 0; y < dctBlock; y++ {
				s += dctBasis[u][y] * tmp[y][v]
			}
			out[u][v] = s
		}
	}
	return out
}

// idct2 inverts dct2.
func idct2(c *block8) block8 {
	var tmp, out block8
	for u := 0; u < dctBlock; u++ {
		for x := 0; x < dctBlock; x++ {
			var s float64
			for v := 0; v < dctBlock; v++ {
				s += dctBasis[v][x] * c[u][v]
			}
			tmp[u][x] = s
		}
	}
	for y := 0; y < dctBlock; y++ {
		for x := 0; x < dctBlock; x++ {
			var s float64
			for u := 0; u < dctBlock; u++ {
				s += dctBasis[u][y] * tmp[u][x]
			}
			out[y][x] = s
		}
	}
	return out
}

// DCT hides one bit per 8x8 block of the grayscale region by forcing the
// parity of the quantisation index of coefficient (4,1). The region comes
// back gray on all three colour channels.
type DCT struct{}

func (DCT) Kind() Kind { return KindDCT }

func (DCT) Capacity(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return (r.Dx() / dctBlock) * (r.Dy() / dctBlock)
}

func (a DCT) Embed(img *image.RGBA, r image.Rectangle) error {
	r, err := clip(a, img, r)
	if err != nil {
		return err
	}
	w := r.Dx()
	gray := grayOf(img, r)
	for i, bit := range markerBits {
		bx, by := dctBlockOrigin(i, w)
		embedDCTBlock(gray, w, bx, by, bit)
	}
	putGray(img, r, gray)
	return nil
}

func (a DCT) Extract(img *image.RGBA, r image.Rectangle) (string, error) {
	r, err := clip(a, img, r)
	if err != nil {
		return "", err
	}
	w := r.Dx()
	gray := grayOf(img, r)
	out := make([]byte, len(markerBits))
	for i := range out {
		bx, by := dctBlockOrigin(i, w)
		b := loadBlock(gray, w, bx, by)
		c := dct2(&b)
		out[i] = quantParity(math.Round(c[dctRow][dctCol] / dctStep))
	}
	return bits.ToString(out)
}

// dctBlockOrigin returns the top-left pixel of the i-th block in row-major order.
func dctBlockOrigin(i, w int) (x, y int) {
	perRow := w / dctBlock
	return (i % perRow) * dctBlock, (i / perRow) * dctBlock
}

func embedDCTBlock(gray []uint8, w, bx, by int, bit byte) {
	for pass := 0; pass < dctPasses; pass++ {
		b := loadBlock(gray, w, bx, by)
		c := dct2(&b)
		q := math.Round(c[dctRow][dctCol] / dctStep)
		p := quantParity(q)
		if pass > 0 && p == bit {
			return
		}
		if p != bit {
			q += float64(bit) - float64(p)
		}
		c[dctRow][dctCol] = q * dctStep
		b = idct2(&c)
		storeBlock(gray, w, bx, by, &b)
	}
}

// quantParity is q mod 2 with floor semantics, so negative indices map to 0 or 1.
func quantParity(q float64) byte {
	m := math.Mod(q, 2)
	if m < 0 {
		m += 2
	}
	if m >= 0.5 {
		return 1
	}
	return 0
}

func loadBlock(gray []uint8, w, bx, by int) block8 {
	var b block8
	for y := 0; y < dctBlock; y++ {
		row := (by+y)*w + bx
		for x := 0; x < dctBlock; x++ {
			b[y][x] = float64(gray[row+x])
		}
	}
	return b
}

func storeBlock(gray []uint8, w, bx, by int, b *block8) {
	for y := 0; y < dctBlock; y++ {
		row := (by+y)*w + bx
		for x := 0; x < dctBlock; x++ {
			gray[row+x] = clamp8(b[y][x])
		}
	}
}
