// Package watermark embeds and verifies a fixed fragile marker inside
// rectangular pixel regions. Three interchangeable algorithms are provided:
// spatial LSB, DCT quantisation index modulation and Haar wavelet parity.
package watermark

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/facemark/internal/bits"
)

// Marker is the string every algorithm embeds and looks for.
const Marker = "WMARK"

// markerBits is the bit sequence of Marker, MSB first.
var markerBits = bits.FromString(Marker)

// ErrCapacity is returned when a region has fewer carrier units than the marker has bits.
var ErrCapacity = errors.New("region too small for marker")

// Kind selects a watermark algorithm.
type Kind int

const (
	KindLSB Kind = iota
	KindDCT
	KindDWT
)

var kindNames = map[Kind]string{
	KindLSB: "lsb",
	KindDCT: "dct",
	KindDWT: "dwt",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds lists every algorithm in a stable order.
func Kinds() []Kind {
	return []Kind{KindLSB, KindDCT, KindDWT}
}

// ParseKind maps a CLI name ("lsb", "dct", "dwt") to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown watermark algorithm %q (want lsb, dct or dwt)", s)
}

// Algorithm embeds the marker into, and extracts it from, one region of a frame.
//
// Embed works in place and never changes the region's size. Extract reads
// exactly len(marker bits) bits regardless of the region's history, so running
// it on an unmarked region yields an arbitrary string.
type Algorithm interface {
	Kind() Kind
	// Capacity is the number of bit-carrying units available in r.
	Capacity(r image.Rectangle) int
	Embed(img *image.RGBA, r image.Rectangle) error
	Extract(img *image.RGBA, r image.Rectangle) (string, error)
}

// New returns the algorithm for k.
func New(k Kind) (Algorithm, error) {
	switch k {
	case KindLSB:
		return LSB{}, nil
	case KindDCT:
		return DCT{}, nil
	case KindDWT:
		return DWT{}, nil
	}
	return nil, fmt.Errorf("unknown watermark algorithm %v", k)
}

// Verify reports whether r carries Marker. It never panics or errors;
// any failure to read the region counts as "no marker".
func Verify(a Algorithm, img *image.RGBA, r image.Rectangle) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	got, err := a.Extract(img, r)
	return err == nil && got == Marker
}

// clip restricts r to the image and checks it can hold the marker.
func clip(a Algorithm, img *image.RGBA, r image.Rectangle) (image.Rectangle, error) {
	r = r.Intersect(img.Bounds())
	if r.Empty() || a.Capacity(r) < len(markerBits) {
		return r, fmt.Errorf("%v: %dx%d region: %w", a.Kind(), r.Dx(), r.Dy(), ErrCapacity)
	}
	return r, nil
}
