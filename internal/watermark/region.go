package watermark

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/sirupsen/logrus"
)

// Frames loads and stores decoded frames by name.
type Frames interface {
	Load(name string) (*image.RGBA, error)
	Save(name string, img *image.RGBA) error
}

// EmbedStats summarises one EmbedInFolder pass.
type EmbedStats struct {
	Frames   int
	Embedded int
	Skipped  int
}

// Match identifies the region that verified.
type Match struct {
	Frame string
	Face  int
}

// EmbedInFolder embeds the marker into every face region of every frame in fm,
// in fm's order, and saves each frame back in place.
//
// Embedding is best effort per region: a region that cannot hold the marker is
// left untouched and counted as skipped. onProgress is called once per frame,
// with the 1-based count of frames processed so far. A frame that cannot be
// loaded or saved aborts the pass; frames already written stay written.
func EmbedInFolder(frames Frames, fm *facemap.FaceMap, alg Algorithm, onProgress func(done int)) (EmbedStats, error) {
	var stats EmbedStats
	var err error

	fm.Each(func(name string, faces []facemap.Face) bool {
		var img *image.RGBA
		img, err = frames.Load(name)
		if err != nil {
			return false
		}

		for _, face := range faces {
			r := face.Box.Rect().Intersect(img.Bounds())
			if r.Empty() {
				continue
			}
			if embedErr := embedRegion(alg, img, r); embedErr != nil {
				stats.Skipped++
				logrus.WithFields(logrus.Fields{
					"frame":     name,
					"face":      face.Index,
					"algorithm": alg.Kind().String(),
					"error":     embedErr,
				}).Debug("Region left unwatermarked")
				continue
			}
			stats.Embedded++
		}

		if err = frames.Save(name, img); err != nil {
			return false
		}
		stats.Frames++
		if onProgress != nil {
			onProgress(stats.Frames)
		}
		return true
	})

	if err != nil {
		return stats, err
	}
	logrus.WithFields(logrus.Fields{
		"algorithm": alg.Kind().String(),
		"frames":    stats.Frames,
		"embedded":  stats.Embedded,
		"skipped":   stats.Skipped,
	}).Info("Watermark embedded")
	return stats, nil
}

// VerifyInFolder reports whether any face region in any frame carries the
// marker. It stops at the first match; a single untouched face proves
// provenance. onProgress is called once per frame examined. Per-region
// failures count as "no marker here".
func VerifyInFolder(frames Frames, fm *facemap.FaceMap, alg Algorithm, onProgress func(done int)) (Match, bool, error) {
	var (
		match Match
		found bool
		err   error
		done  int
	)

	fm.Each(func(name string, faces []facemap.Face) bool {
		var img *image.RGBA
		img, err = frames.Load(name)
		if err != nil {
			return false
		}
		done++
		if onProgress != nil {
			onProgress(done)
		}

		for _, face := range faces {
			r := face.Box.Rect().Intersect(img.Bounds())
			if r.Empty() {
				continue
			}
			if Verify(alg, img, r) {
				match = Match{Frame: name, Face: face.Index}
				found = true
				return false
			}
		}
		return true
	})

	if err != nil {
		return Match{}, false, err
	}
	fields := logrus.Fields{"algorithm": alg.Kind().String(), "frames": done}
	if found {
		fields["frame"] = match.Frame
		fields["face"] = match.Face
		logrus.WithFields(fields).Info("Valid marker found")
	} else {
		logrus.WithFields(fields).Info("No valid marker found in any face")
	}
	return match, found, nil
}

// embedRegion embeds into a scratch copy first so a failing region is never
// partially written.
func embedRegion(alg Algorithm, img *image.RGBA, r image.Rectangle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v: embed panicked: %v", alg.Kind(), p)
		}
	}()
	scratch := image.NewRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(scratch.Pix[scratch.PixOffset(r.Min.X, y):scratch.PixOffset(r.Max.X-1, y)+4],
			img.Pix[img.PixOffset(r.Min.X, y):img.PixOffset(r.Max.X-1, y)+4])
	}
	if err := alg.Embed(scratch, r); err != nil {
		return err
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		copy(img.Pix[img.PixOffset(r.Min.X, y):img.PixOffset(r.Max.X-1, y)+4],
			scratch.Pix[scratch.PixOffset(r.Min.X, y):scratch.PixOffset(r.Max.X-1, y)+4])
	}
	return nil
}
