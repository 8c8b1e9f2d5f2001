package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/andresmejia3/facemark/internal/worker"
	"github.com/sirupsen/logrus"
)

// Client is the request/response side of a detection worker.
type Client interface {
	ProcessFrame(data []byte) ([]types.FaceResult, error)
	Close() error
}

// Options configures how detectors are created.
type Options struct {
	Python    string
	Script    string
	Timeout   time.Duration
	Threshold float64 // minimum confidence for dnn and mtcnn
	// CascadePath enables the in-process Haar cascade when the binary is built with gocv.
	CascadePath string
}

// WorkerDetector runs a model inside a detection worker process.
type WorkerDetector struct {
	kind      Kind
	threshold float64

	mu     sync.Mutex // one request in flight per worker
	client Client
}

// NewWorkerDetector wraps an already started client.
func NewWorkerDetector(kind Kind, client Client, threshold float64) *WorkerDetector {
	return &WorkerDetector{kind: kind, client: client, threshold: threshold}
}

func (d *WorkerDetector) Kind() Kind { return d.kind }

// Detect sends img to the worker as PNG and converts the reply.
func (d *WorkerDetector) Detect(ctx context.Context, img image.Image) ([]facemap.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	d.mu.Lock()
	results, err := d.client.ProcessFrame(buf.Bytes())
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return convertResults(d.kind, results, img.Bounds(), d.threshold), nil
}

func (d *WorkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client.Close()
}

// convertResults turns raw worker detections into faces.
//
// Haar scores are raw level weights and are rescaled per frame; dnn and mtcnn
// scores are probabilities and are filtered by threshold instead.
func convertResults(kind Kind, results []types.FaceResult, bounds image.Rectangle, threshold float64) []facemap.Face {
	if kind == KindHaar {
		weights := make([]float64, len(results))
		for i, r := range results {
			weights[i] = r.Score
		}
		norm := NormalizeWeights(weights)
		faces := make([]facemap.Face, 0, len(results))
		for i, r := range results {
			faces = append(faces, facemap.Face{
				Index:      i,
				Box:        ClampBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3], bounds),
				Confidence: norm[i],
			})
		}
		return faces
	}

	faces := make([]facemap.Face, 0, len(results))
	for _, r := range results {
		if r.Score < threshold {
			continue
		}
		faces = append(faces, facemap.Face{
			Index:      len(faces),
			Box:        ClampBox(r.Box[0], r.Box[1], r.Box[2], r.Box[3], bounds),
			Confidence: min(max(r.Score, 0), 1),
		})
	}
	return faces
}

// Open returns a detector for kind: the in-process cascade when available and
// configured, otherwise a freshly started detection worker.
func Open(ctx context.Context, kind Kind, opts Options) (Detector, error) {
	if d, ok, err := openInProcess(kind, opts); ok || err != nil {
		return d, err
	}

	w, err := worker.NewPythonWorker(ctx, int(kind), worker.Options{
		Python:  opts.Python,
		Script:  opts.Script,
		Model:   kind.String(),
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, &Error{Kind: kind, Err: err}
	}
	logrus.WithFields(logrus.Fields{"detector": kind.String(), "script": opts.Script}).Info("Detection worker ready")
	return NewWorkerDetector(kind, w, opts.Threshold), nil
}
