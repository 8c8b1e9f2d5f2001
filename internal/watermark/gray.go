package watermark

import "image"

// grayOf converts r to 8-bit luma, row-major, len = Dx*Dy.
// The weights sum to 1<<16 so an already-gray pixel maps to itself exactly.
func grayOf(img *image.RGBA, r image.Rectangle) []uint8 {
	w, h := r.Dx(), r.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(r.Min.X, r.Min.Y+y)
		for x := 0; x < w; x++ {
			o := off + x*4
			cr, cg, cb := uint32(img.Pix[o]), uint32(img.Pix[o+1]), uint32(img.Pix[o+2])
			out[y*w+x] = uint8((19595*cr + 38470*cg + 7471*cb + 1<<15) >> 16)
		}
	}
	return out
}

// putGray writes gray back into r as three identical colour channels.
// Alpha is left alone.
func putGray(img *image.RGBA, r image.Rectangle, gray []uint8) {
	w, h := r.Dx(), r.Dy()
	for y := 0; y < h; y++ {
		off := img.PixOffset(r.Min.X, r.Min.Y+y)
		for x := 0; x < w; x++ {
			v := gray[y*w+x]
			o := off + x*4
			img.Pix[o] = v
			img.Pix[o+1] = v
			img.Pix[o+2] = v
		}
	}
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
