package pipeline

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/andresmejia3/facemark/internal/store"
	"github.com/andresmejia3/facemark/internal/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVideo writes noise frames instead of running ffmpeg.
type fakeVideo struct {
	frames    int
	assembled []string
}

func (v *fakeVideo) ExtractFrames(ctx context.Context, video string, frames *framestore.Store) error {
	rng := rand.New(rand.NewSource(42))
	for i := 1; i <= v.frames; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 160, 120))
		for j := 0; j < len(img.Pix); j += 4 {
			img.Pix[j] = uint8(32 + rng.Intn(192))
			img.Pix[j+1] = uint8(32 + rng.Intn(192))
			img.Pix[j+2] = uint8(32 + rng.Intn(192))
			img.Pix[j+3] = 255
		}
		if err := frames.Save(framestore.FrameName(i), img); err != nil {
			return err
		}
	}
	return nil
}

func (v *fakeVideo) Assemble(ctx context.Context, frames *framestore.Store, fps float64, source, out string) error {
	v.assembled = append(v.assembled, out)
	return os.WriteFile(out, []byte("video"), 0o644)
}

func (v *fakeVideo) FPS(ctx context.Context, video string) (float64, error) { return 25, nil }

// fakeDetector finds one face on the first frame only.
type fakeDetector struct {
	kind   detector.Kind
	calls  int
	closed bool
	err    error
}

func (d *fakeDetector) Kind() detector.Kind { return d.kind }

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]facemap.Face, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if d.calls == 1 {
		return []facemap.Face{{Index: 0, Box: facemap.BBox{X: 20, Y: 20, W: 64, H: 64}, Confidence: 0.9}}, nil
	}
	return nil, nil
}

func (d *fakeDetector) Close() error {
	d.closed = true
	return nil
}

// fakeMetadata keeps tags in memory, keyed by path.
type fakeMetadata struct {
	tags map[string]string
}

func (m *fakeMetadata) Embed(ctx context.Context, path string, fm *facemap.FaceMap) error {
	m.tags[path] = fm.String()
	return nil
}

func (m *fakeMetadata) Extract(ctx context.Context, path string) (*facemap.FaceMap, bool, error) {
	v, ok := m.tags[path]
	if !ok {
		return nil, false, nil
	}
	fm, err := facemap.Parse([]byte(v))
	if err != nil {
		return nil, false, nil
	}
	return fm, true, nil
}

type fakeLedger struct {
	mu   sync.Mutex
	runs []store.Run
}

func (l *fakeLedger) RecordRun(ctx context.Context, r store.Run) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, r)
	return int64(len(l.runs)), nil
}

type counter struct {
	mu       sync.Mutex
	inits    []int
	advances int
}

func (c *counter) Init(total int) {
	c.mu.Lock()
	c.inits = append(c.inits, total)
	c.mu.Unlock()
}

func (c *counter) Advance(step int) {
	c.mu.Lock()
	c.advances += step
	c.mu.Unlock()
}

func (c *counter) Reset() {}

type harness struct {
	p        *Pipeline
	video    *fakeVideo
	det      *fakeDetector
	meta     *fakeMetadata
	ledger   *fakeLedger
	progress *counter
	src      string
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mkv")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))

	h := &harness{
		video:    &fakeVideo{frames: 3},
		det:      &fakeDetector{},
		meta:     &fakeMetadata{tags: map[string]string{}},
		ledger:   &fakeLedger{},
		progress: &counter{},
		src:      src,
		dir:      dir,
	}
	h.p = New(Deps{
		Frames:   framestore.New(filepath.Join(dir, "frames")),
		Video:    h.video,
		Metadata: h.meta,
		OpenDetector: func(ctx context.Context, kind detector.Kind) (detector.Detector, error) {
			h.det.kind = kind
			return h.det, nil
		},
		Progress: h.progress,
		Ledger:   h.ledger,
	})
	t.Cleanup(func() { h.p.Close() })
	return h
}

func TestRun_DetectEmbedVerifyPersist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))
	assert.False(t, h.p.FromMetadata())
	assert.Equal(t, 0, h.p.FaceMap().Len())

	out := filepath.Join(h.dir, "out.mkv")
	rep, err := h.p.Run(ctx, RunOptions{Detector: detector.KindDNN, Algorithm: watermark.KindDWT, Output: out})
	require.NoError(t, err)

	assert.Equal(t, "detect", rep.Source)
	assert.Equal(t, watermark.EmbedStats{Frames: 3, Embedded: 1}, rep.Stats)
	assert.True(t, rep.Verified)
	assert.Equal(t, watermark.Match{Frame: "frame_000001.png", Face: 0}, rep.Match)
	assert.Equal(t, out, rep.Output)
	assert.Equal(t, []string{out}, h.video.assembled)

	// Zero-face frames are part of the map and of the persisted tag.
	assert.Equal(t, `{"frame_000001.png":[[20,20,64,64]],"frame_000002.png":[],"frame_000003.png":[]}`, h.meta.tags[out])

	// Every stage is sized to the frame count; verify stops at the first match.
	assert.Equal(t, []int{3, 3, 3}, h.progress.inits)
	assert.Equal(t, 3+3+1, h.progress.advances)

	require.Len(t, h.ledger.runs, 1)
	r := h.ledger.runs[0]
	assert.Equal(t, h.src, r.VideoPath)
	assert.NotEmpty(t, r.VideoID)
	assert.Equal(t, "dwt", r.Algorithm)
	assert.Equal(t, "dnn", r.Detector)
	assert.True(t, r.Verified)
	assert.Empty(t, r.Error)
}

func TestRun_UsesRecoveredFaceMap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.meta.tags[h.src] = `{"frame_000001.png":[],"frame_000002.png":[[30,30,48,48]],"frame_000003.png":[]}`

	require.NoError(t, h.p.Open(ctx, h.src))
	require.True(t, h.p.FromMetadata())
	assert.Equal(t, 1, h.p.FaceMap().Regions())

	rep, err := h.p.Run(ctx, RunOptions{Algorithm: watermark.KindLSB})
	require.NoError(t, err)
	assert.Equal(t, "metadata", rep.Source)
	assert.Zero(t, h.det.calls, "detection skipped")
	assert.True(t, rep.Verified)
	assert.Equal(t, "frame_000002.png", rep.Match.Frame)
	assert.Empty(t, h.video.assembled, "no output requested")

	// Redetect overrides the recovered map.
	rep, err = h.p.Run(ctx, RunOptions{Algorithm: watermark.KindLSB, Redetect: true})
	require.NoError(t, err)
	assert.Equal(t, "detect", rep.Source)
	assert.Equal(t, 3, h.det.calls)
	assert.False(t, h.p.FromMetadata())
}

func TestOpen_ResetsPreviousVideo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))
	require.NoError(t, h.p.Detect(ctx, detector.KindHaar))
	assert.Equal(t, 1, h.p.FaceMap().Regions())

	stale := h.p.Frames().Path("frame_000099.png")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	h.video.frames = 2
	require.NoError(t, h.p.Open(ctx, h.src))
	names, err := h.p.Frames().List()
	require.NoError(t, err)
	assert.Equal(t, []string{"frame_000001.png", "frame_000002.png"}, names)
	assert.Equal(t, 0, h.p.FaceMap().Len(), "face map replaced on load")
}

func TestOpen_NoFramesFails(t *testing.T) {
	h := newHarness(t)
	h.video.frames = 0

	err := h.p.Open(context.Background(), h.src)
	var fe *framestore.FormatError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, framestore.ErrEmpty)
	assert.Empty(t, h.p.Video())

	_, err = h.p.Run(context.Background(), RunOptions{Algorithm: watermark.KindLSB})
	assert.ErrorIs(t, err, ErrNoVideo)
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))

	// Nothing embedded yet: faces are detected, no region verifies.
	rep, err := h.p.Check(ctx, RunOptions{Detector: detector.KindHaar, Algorithm: watermark.KindDWT})
	require.NoError(t, err)
	assert.Equal(t, "detect", rep.Source)
	assert.False(t, rep.Verified)
	assert.Equal(t, 3, h.det.calls)

	_, err = h.p.Embed(ctx, watermark.KindDWT)
	require.NoError(t, err)

	h.det.calls = 0
	rep, err = h.p.Check(ctx, RunOptions{Detector: detector.KindHaar, Algorithm: watermark.KindDWT})
	require.NoError(t, err)
	assert.True(t, rep.Verified)
	assert.Equal(t, watermark.Match{Frame: "frame_000001.png", Face: 0}, rep.Match)
	assert.Equal(t, 3, h.det.calls, "detected again without a stored map")
	assert.Empty(t, h.ledger.runs, "checks are not recorded")
	assert.Empty(t, h.video.assembled)
}

func TestCheck_UsesRecoveredFaceMap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.meta.tags[h.src] = `{"frame_000001.png":[],"frame_000002.png":[[30,30,48,48]],"frame_000003.png":[]}`
	require.NoError(t, h.p.Open(ctx, h.src))

	rep, err := h.p.Check(ctx, RunOptions{Algorithm: watermark.KindLSB})
	require.NoError(t, err)
	assert.Equal(t, "metadata", rep.Source)
	assert.False(t, rep.Verified)
	assert.Zero(t, h.det.calls)
}

func TestRun_DetectorFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))
	h.det.err = errors.New("model exploded")

	_, err := h.p.Run(ctx, RunOptions{Detector: detector.KindMTCNN, Algorithm: watermark.KindDCT})
	var de *detector.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, detector.KindMTCNN, de.Kind)

	require.Len(t, h.ledger.runs, 1)
	assert.Contains(t, h.ledger.runs[0].Error, "model exploded")
}

func TestStagesRequireVideo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.p.Run(ctx, RunOptions{})
	assert.ErrorIs(t, err, ErrNoVideo)
	assert.ErrorIs(t, h.p.Detect(ctx, detector.KindHaar), ErrNoVideo)
	assert.ErrorIs(t, h.p.Reassemble(ctx, "x.mkv"), ErrNoVideo)
}

func TestLaunch_OneTaskPerStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})

	t1, err := h.p.Launch(ctx, StageEmbed, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started
	assert.Equal(t, StateRunning, t1.State())
	assert.Nil(t, t1.Err())

	_, err = h.p.Launch(ctx, StageEmbed, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStageBusy)

	// Other stages are independent.
	t2, err := h.p.Launch(ctx, StageVerify, func(context.Context) error { return errors.New("no marker") })
	require.NoError(t, err)
	assert.EqualError(t, t2.Wait(), "no marker")
	assert.Equal(t, StateFailed, t2.State())

	close(release)
	require.NoError(t, t1.Wait())
	assert.Equal(t, StateSucceeded, t1.State())
	select {
	case <-t1.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	t3, err := h.p.Launch(ctx, StageEmbed, func(context.Context) error { panic("boom") })
	require.NoError(t, err, "stage is free again once the task finished")
	assert.ErrorContains(t, t3.Wait(), "panicked")
	assert.Equal(t, StateFailed, t3.State())
}

func TestClose_StopsDetectorsAndRemovesFrames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))
	require.NoError(t, h.p.Detect(ctx, detector.KindDNN))

	require.NoError(t, h.p.Close())
	assert.True(t, h.det.closed)
	_, err := os.Stat(h.p.Frames().Dir())
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, h.p.Video())
}

func TestAnnotate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.p.Open(ctx, h.src))
	require.NoError(t, h.p.Detect(ctx, detector.KindHaar))

	dst := framestore.New(filepath.Join(h.dir, "annotated"))
	n, err := h.p.Annotate(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := dst.List()
	require.NoError(t, err)
	assert.Len(t, names, 3)
}
