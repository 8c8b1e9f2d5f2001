//go:build gocv

package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/facemark/internal/facemap"
	"gocv.io/x/gocv"
)

// Cascade is the OpenCV Haar cascade running in-process.
type Cascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascade loads a cascade XML file such as haarcascade_frontalface_default.xml.
func NewCascade(path string) (*Cascade, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("failed to load cascade classifier from %s", path)
	}
	return &Cascade{classifier: c}, nil
}

func (c *Cascade) Kind() Kind { return KindHaar }

func (c *Cascade) Detect(ctx context.Context, img image.Image) ([]facemap.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	c.mu.Lock()
	rects := c.classifier.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	c.mu.Unlock()

	// DetectMultiScale does not expose level weights, so every face scores the same.
	weights := NormalizeWeights(make([]float64, len(rects)))
	faces := make([]facemap.Face, 0, len(rects))
	b := img.Bounds()
	for i, r := range rects {
		faces = append(faces, facemap.Face{
			Index:      i,
			Box:        ClampBox(r.Min.X+b.Min.X, r.Min.Y+b.Min.Y, r.Max.X+b.Min.X, r.Max.Y+b.Min.Y, b),
			Confidence: weights[i],
		})
	}
	return faces, nil
}

func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

func openInProcess(kind Kind, opts Options) (Detector, bool, error) {
	if kind != KindHaar || opts.CascadePath == "" {
		return nil, false, nil
	}
	c, err := NewCascade(opts.CascadePath)
	if err != nil {
		return nil, true, &Error{Kind: kind, Err: err}
	}
	return c, true, nil
}
