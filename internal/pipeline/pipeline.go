// Package pipeline sequences detection, watermark embedding, verification,
// reassembly and metadata persistence for one loaded video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facemark/internal/annotate"
	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/andresmejia3/facemark/internal/progress"
	"github.com/andresmejia3/facemark/internal/store"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/andresmejia3/facemark/internal/watermark"
	"github.com/sirupsen/logrus"
)

// defaultFPS is used when the source frame rate cannot be probed.
const defaultFPS = 30.0

// ErrNoVideo is returned by stages that need a loaded video.
var ErrNoVideo = errors.New("no video loaded")

// MetadataCodec stores and recovers a FaceMap in a video container.
type MetadataCodec interface {
	Embed(ctx context.Context, path string, fm *facemap.FaceMap) error
	Extract(ctx context.Context, path string) (*facemap.FaceMap, bool, error)
}

// Ledger records finished runs.
type Ledger interface {
	RecordRun(ctx context.Context, r store.Run) (int64, error)
}

// DetectorFactory starts a detector for a model.
type DetectorFactory func(ctx context.Context, kind detector.Kind) (detector.Detector, error)

// Deps are the collaborators a Pipeline drives. Progress and Ledger are optional.
type Deps struct {
	Frames       *framestore.Store
	Video        VideoTools
	Metadata     MetadataCodec
	OpenDetector DetectorFactory
	Progress     progress.Sink
	Ledger       Ledger
}

// Pipeline owns the frame store and face map of the video currently loaded.
//
// The face map is only ever replaced as a whole, so a stage reading it on its
// own goroutine always sees a complete map.
type Pipeline struct {
	deps Deps

	faceMap      atomic.Pointer[facemap.FaceMap]
	fromMetadata atomic.Bool

	mu      sync.Mutex
	video   string
	videoID string
	fps     float64
	running map[Stage]*Task

	detMu     sync.Mutex
	detectors map[detector.Kind]detector.Detector
}

// New returns a pipeline with no video loaded.
func New(deps Deps) *Pipeline {
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if deps.Video == nil {
		deps.Video = FFmpeg{}
	}
	p := &Pipeline{
		deps:      deps,
		running:   make(map[Stage]*Task),
		detectors: make(map[detector.Kind]detector.Detector),
	}
	p.faceMap.Store(facemap.Empty())
	return p
}

// FaceMap is the current face map. It is never nil.
func (p *Pipeline) FaceMap() *facemap.FaceMap { return p.faceMap.Load() }

// FromMetadata reports whether the current face map was recovered from the container.
func (p *Pipeline) FromMetadata() bool { return p.fromMetadata.Load() }

// Video returns the path of the loaded video, or "" when none is loaded.
func (p *Pipeline) Video() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.video
}

// Frames is the store holding the decoded frames.
func (p *Pipeline) Frames() *framestore.Store { return p.deps.Frames }

// Open loads a video: the frame store is recreated, every frame is decoded
// into it, and a face map stored in the container replaces the current one.
// Without stored metadata the face map is reset to empty.
func (p *Pipeline) Open(ctx context.Context, path string) error {
	if err := p.deps.Frames.Reset(); err != nil {
		return err
	}
	p.faceMap.Store(facemap.Empty())
	p.fromMetadata.Store(false)

	if err := p.deps.Video.ExtractFrames(ctx, path, p.deps.Frames); err != nil {
		return err
	}
	names, err := p.deps.Frames.List()
	if err != nil {
		return err
	}

	fps, err := p.deps.Video.FPS(ctx, path)
	if err != nil {
		logrus.WithFields(logrus.Fields{"video": path, "error": err}).Warn("Frame rate unknown, assuming 30 fps")
		fps = defaultFPS
	}
	videoID, err := utils.GenerateVideoID(path)
	if err != nil {
		return fmt.Errorf("failed to identify video: %w", err)
	}

	p.mu.Lock()
	p.video, p.videoID, p.fps = path, videoID, fps
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{"video": path, "frames": len(names), "fps": fps}).Info("Video loaded")

	if p.deps.Metadata == nil {
		return nil
	}
	fm, ok, err := p.deps.Metadata.Extract(ctx, path)
	switch {
	case err != nil:
		logrus.WithFields(logrus.Fields{"video": path, "error": err}).Warn("Could not read container metadata")
	case ok:
		p.faceMap.Store(fm)
		p.fromMetadata.Store(true)
		logrus.WithFields(logrus.Fields{"frames": fm.Len(), "faces": fm.Regions()}).Info("Face map recovered from container")
	}
	return nil
}

// Launch starts fn on its own goroutine and returns without waiting.
// At most one task per stage runs at a time.
func (p *Pipeline) Launch(ctx context.Context, stage Stage, fn func(context.Context) error) (*Task, error) {
	p.mu.Lock()
	if _, busy := p.running[stage]; busy {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", stage, ErrStageBusy)
	}
	t := newTask(stage)
	p.running[stage] = t
	p.mu.Unlock()

	go func() {
		err := t.run(ctx, fn)
		p.mu.Lock()
		delete(p.running, stage)
		p.mu.Unlock()
		t.finish(err)
		if err != nil {
			logrus.WithFields(logrus.Fields{"stage": string(stage), "error": err}).Debug("Stage failed")
		}
	}()
	return t, nil
}

func (p *Pipeline) detectorFor(ctx context.Context, kind detector.Kind) (detector.Detector, error) {
	p.detMu.Lock()
	defer p.detMu.Unlock()
	if d, ok := p.detectors[kind]; ok {
		return d, nil
	}
	if p.deps.OpenDetector == nil {
		return nil, fmt.Errorf("no detector available for %v", kind)
	}
	d, err := p.deps.OpenDetector(ctx, kind)
	if err != nil {
		return nil, err
	}
	p.detectors[kind] = d
	return d, nil
}

// Detect runs kind over every frame and replaces the face map with the result.
func (p *Pipeline) Detect(ctx context.Context, kind detector.Kind) error {
	if p.Video() == "" {
		return ErrNoVideo
	}
	d, err := p.detectorFor(ctx, kind)
	if err != nil {
		return err
	}
	names, err := p.deps.Frames.List()
	if err != nil {
		return err
	}

	sink := progress.Named(p.deps.Progress, string(StageDetect))
	sink.Init(len(names))
	fm, err := detector.DetectInFolder(ctx, d, p.deps.Frames, func(int) { sink.Advance(1) })
	if err != nil {
		sink.Reset()
		return err
	}
	p.faceMap.Store(fm)
	p.fromMetadata.Store(false)
	return nil
}

// Embed writes the marker into every face region of the current face map.
func (p *Pipeline) Embed(ctx context.Context, kind watermark.Kind) (watermark.EmbedStats, error) {
	alg, err := watermark.New(kind)
	if err != nil {
		return watermark.EmbedStats{}, err
	}
	fm := p.FaceMap()

	sink := progress.Named(p.deps.Progress, string(StageEmbed))
	sink.Init(fm.Len())
	stats, err := watermark.EmbedInFolder(p.deps.Frames, fm, alg, func(int) { sink.Advance(1) })
	if err != nil {
		sink.Reset()
	}
	return stats, err
}

// Verify looks for the marker in the face regions of the current face map.
func (p *Pipeline) Verify(ctx context.Context, kind watermark.Kind) (watermark.Match, bool, error) {
	alg, err := watermark.New(kind)
	if err != nil {
		return watermark.Match{}, false, err
	}
	fm := p.FaceMap()

	sink := progress.Named(p.deps.Progress, string(StageVerify))
	sink.Init(fm.Len())
	match, ok, err := watermark.VerifyInFolder(p.deps.Frames, fm, alg, func(int) { sink.Advance(1) })
	if err != nil {
		sink.Reset()
	}
	return match, ok, err
}

// Annotate draws the current face map onto copies of the frames in dst.
func (p *Pipeline) Annotate(ctx context.Context, dst *framestore.Store) (int, error) {
	if err := dst.Reset(); err != nil {
		return 0, err
	}
	fm := p.FaceMap()
	sink := progress.Named(p.deps.Progress, string(StageAnnotate))
	sink.Init(fm.Len())
	return annotate.Folder(p.deps.Frames, dst, fm, annotate.DefaultStyle, func(int) { sink.Advance(1) })
}

// Reassemble encodes the frames into out at the source frame rate, copying the source audio.
func (p *Pipeline) Reassemble(ctx context.Context, out string) error {
	p.mu.Lock()
	source, fps := p.video, p.fps
	p.mu.Unlock()
	if source == "" {
		return ErrNoVideo
	}
	if err := p.deps.Video.Assemble(ctx, p.deps.Frames, fps, source, out); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"output": out, "fps": fps}).Info("Video reassembled")
	return nil
}

// Persist stores the current face map in the container at out.
func (p *Pipeline) Persist(ctx context.Context, out string) error {
	if p.deps.Metadata == nil {
		return fmt.Errorf("no metadata codec configured")
	}
	return p.deps.Metadata.Embed(ctx, out, p.FaceMap())
}

// RunOptions selects the models and output of a full run.
type RunOptions struct {
	Detector  detector.Kind
	Algorithm watermark.Kind
	Output    string
	// Redetect ignores a face map recovered from the container.
	Redetect bool
}

// Report summarises a full run.
type Report struct {
	Source   string // "detect" or "metadata"
	Stats    watermark.EmbedStats
	Verified bool
	Match    watermark.Match
	Output   string
}

// Run sequences detect, embed, verify, reassemble and persist. Each stage is
// launched in the background and the next starts only after it completes.
// Detection is skipped when the face map came from the container.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (rep Report, err error) {
	if p.Video() == "" {
		return rep, ErrNoVideo
	}
	started := time.Now()
	defer func() { p.record(ctx, opts, rep, err, started) }()

	rep.Source = "metadata"
	if !p.FromMetadata() || opts.Redetect {
		rep.Source = "detect"
		if err = p.runStage(ctx, StageDetect, func(ctx context.Context) error {
			return p.Detect(ctx, opts.Detector)
		}); err != nil {
			return rep, err
		}
	} else {
		logrus.Info("Using face map from container metadata; skipping detection")
	}

	if err = p.runStage(ctx, StageEmbed, func(ctx context.Context) error {
		var e error
		rep.Stats, e = p.Embed(ctx, opts.Algorithm)
		return e
	}); err != nil {
		return rep, err
	}

	if err = p.runStage(ctx, StageVerify, func(ctx context.Context) error {
		var e error
		rep.Match, rep.Verified, e = p.Verify(ctx, opts.Algorithm)
		return e
	}); err != nil {
		return rep, err
	}

	if opts.Output == "" {
		return rep, nil
	}
	if err = p.runStage(ctx, StageReassemble, func(ctx context.Context) error {
		return p.Reassemble(ctx, opts.Output)
	}); err != nil {
		return rep, err
	}
	if err = p.runStage(ctx, StagePersist, func(ctx context.Context) error {
		return p.Persist(ctx, opts.Output)
	}); err != nil {
		return rep, err
	}
	rep.Output = opts.Output
	return rep, nil
}

// Check verifies the loaded video without modifying it. Faces are detected
// first unless the face map came from the container. Both steps run as
// background stages like Run's; nothing is written or recorded.
func (p *Pipeline) Check(ctx context.Context, opts RunOptions) (Report, error) {
	var rep Report
	if p.Video() == "" {
		return rep, ErrNoVideo
	}

	rep.Source = "metadata"
	if !p.FromMetadata() || opts.Redetect {
		rep.Source = "detect"
		if err := p.runStage(ctx, StageDetect, func(ctx context.Context) error {
			return p.Detect(ctx, opts.Detector)
		}); err != nil {
			return rep, err
		}
	}

	err := p.runStage(ctx, StageVerify, func(ctx context.Context) error {
		var e error
		rep.Match, rep.Verified, e = p.Verify(ctx, opts.Algorithm)
		return e
	})
	return rep, err
}

// runStage launches fn and waits for it. Cancellation is honoured between stages only.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := p.Launch(ctx, stage, fn)
	if err != nil {
		return err
	}
	if err := t.Wait(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, opts RunOptions, rep Report, runErr error, started time.Time) {
	if p.deps.Ledger == nil {
		return
	}
	p.mu.Lock()
	video, videoID := p.video, p.videoID
	p.mu.Unlock()

	r := store.Run{
		VideoID:    videoID,
		VideoPath:  video,
		Algorithm:  opts.Algorithm.String(),
		Source:     rep.Source,
		Frames:     rep.Stats.Frames,
		Regions:    p.FaceMap().Regions(),
		Embedded:   rep.Stats.Embedded,
		Skipped:    rep.Stats.Skipped,
		Verified:   rep.Verified,
		MatchFrame: rep.Match.Frame,
		Output:     rep.Output,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if rep.Source == "detect" {
		r.Detector = opts.Detector.String()
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	// Recorded even when the run was cancelled.
	if _, err := p.deps.Ledger.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Failed to record run")
	}
}

// Close stops every detector and removes the frame store.
func (p *Pipeline) Close() error {
	p.detMu.Lock()
	var errs []error
	for kind, d := range p.detectors {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%v detector: %w", kind, err))
		}
		delete(p.detectors, kind)
	}
	p.detMu.Unlock()

	if err := p.deps.Frames.Teardown(); err != nil {
		errs = append(errs, err)
	}
	p.mu.Lock()
	p.video, p.videoID = "", ""
	p.mu.Unlock()
	return errors.Join(errs...)
}
