// Package detector finds face regions in decoded frames and assembles them
// into a FaceMap. The models themselves run outside this package: in a
// detection worker process, or in-process through OpenCV when built with
// the gocv tag.
package detector

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/sirupsen/logrus"
)

// Kind selects a face detection model.
type Kind int

const (
	KindHaar Kind = iota
	KindDNN
	KindMTCNN
)

var kindNames = map[Kind]string{
	KindHaar:  "haar",
	KindDNN:   "dnn",
	KindMTCNN: "mtcnn",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds lists every model in a stable order.
func Kinds() []Kind {
	return []Kind{KindHaar, KindDNN, KindMTCNN}
}

// ParseKind maps a CLI name ("haar", "dnn", "mtcnn") to a Kind.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown detector %q (want haar, dnn or mtcnn)", s)
}

// Detector finds faces in one frame. Faces come back in detection order with
// Index set to that order and boxes inside the frame bounds.
type Detector interface {
	Kind() Kind
	Detect(ctx context.Context, img image.Image) ([]facemap.Face, error)
	Close() error
}

// Error is an opaque failure reported by a detection model.
type Error struct {
	Kind  Kind
	Frame string
	Err   error
}

func (e *Error) Error() string {
	if e.Frame == "" {
		return fmt.Sprintf("%v detector: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v detector: %s: %v", e.Kind, e.Frame, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Frames lists and loads the frames of one video.
type Frames interface {
	List() ([]string, error)
	Load(name string) (*image.RGBA, error)
}

// DetectInFolder runs d over every image in frames, in name order.
//
// Every readable frame gets an entry, with an empty list when no face was
// found. Unreadable files are skipped. A missing or empty directory is
// returned as the listing error. A detector failure aborts the pass.
func DetectInFolder(ctx context.Context, d Detector, frames Frames, onProgress func(done int)) (*facemap.FaceMap, error) {
	names, err := frames.List()
	if err != nil {
		return nil, err
	}

	b := facemap.NewBuilder()
	regions := 0
	for i, name := range names {
		img, err := frames.Load(name)
		if err != nil {
			logrus.WithFields(logrus.Fields{"frame": name, "error": err}).Warn("Skipping unreadable frame")
		} else {
			faces, err := d.Detect(ctx, img)
			if err != nil {
				return nil, &Error{Kind: d.Kind(), Frame: name, Err: err}
			}
			if err := b.Add(name, faces); err != nil {
				return nil, err
			}
			regions += len(faces)
			logrus.WithFields(logrus.Fields{"frame": name, "faces": len(faces)}).Debug("Frame scanned")
		}
		if onProgress != nil {
			onProgress(i + 1)
		}
	}

	fm := b.Build()
	logrus.WithFields(logrus.Fields{
		"detector": d.Kind().String(),
		"frames":   fm.Len(),
		"faces":    regions,
	}).Info("Face detection complete")
	return fm, nil
}

// NormalizeWeights rescales raw scores to [0,1] within one frame.
// When every score is equal each face gets full confidence.
func NormalizeWeights(weights []float64) []float64 {
	if len(weights) == 0 {
		return nil
	}
	lo, hi := weights[0], weights[0]
	for _, w := range weights[1:] {
		lo = min(lo, w)
		hi = max(hi, w)
	}
	out := make([]float64, len(weights))
	for i, w := range weights {
		if hi > lo {
			out[i] = (w - lo) / (hi - lo)
		} else {
			out[i] = 1.0
		}
	}
	return out
}

// ClampBox converts corner coordinates to a box inside bounds. The far edge is
// kept one pixel inside the frame; inverted corners yield a zero-sized box.
func ClampBox(x1, y1, x2, y2 int, bounds image.Rectangle) facemap.BBox {
	x1 = min(max(x1, bounds.Min.X), bounds.Max.X-1)
	y1 = min(max(y1, bounds.Min.Y), bounds.Max.Y-1)
	x2 = min(x2, bounds.Max.X-1)
	y2 = min(y2, bounds.Max.Y-1)
	return facemap.BBox{X: x1, Y: y1, W: max(x2-x1, 0), H: max(y2-y1, 0)}
}
