package detector

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/andresmejia3/facemark/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient answers every frame with the next canned response.
type fakeClient struct {
	responses [][]types.FaceResult
	err       error
	calls     int
	closed    bool
}

func (f *fakeClient) ProcessFrame(data []byte) ([]types.FaceResult, error) {
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	defer func() { f.calls++ }()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls < len(f.responses) {
		return f.responses[f.calls], nil
	}
	return nil, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func frameStore(t *testing.T, n int) *framestore.Store {
	t.Helper()
	s := framestore.New(t.TempDir())
	for i := 1; i <= n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 100, 80))
		img.Set(i, i, color.RGBA{R: 200, A: 255})
		require.NoError(t, s.Save(framestore.FrameName(i), img))
	}
	return s
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	got, err := ParseKind("MTCNN")
	require.NoError(t, err)
	assert.Equal(t, KindMTCNN, got)

	_, err = ParseKind("yolo")
	assert.Error(t, err)
}

func TestNormalizeWeights(t *testing.T) {
	assert.Nil(t, NormalizeWeights(nil))
	assert.Equal(t, []float64{1, 1, 1}, NormalizeWeights([]float64{3.5, 3.5, 3.5}))
	assert.Equal(t, []float64{1}, NormalizeWeights([]float64{-2}))

	got := NormalizeWeights([]float64{2, 6, 4})
	assert.InDeltaSlice(t, []float64{0, 1, 0.5}, got, 1e-12)
}

func TestClampBox(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	assert.Equal(t, facemap.BBox{X: 10, Y: 20, W: 30, H: 40}, ClampBox(10, 20, 40, 60, bounds))
	assert.Equal(t, facemap.BBox{X: 0, Y: 0, W: 20, H: 30}, ClampBox(-5, -9, 20, 30, bounds))
	assert.Equal(t, facemap.BBox{X: 90, Y: 70, W: 9, H: 9}, ClampBox(90, 70, 150, 120, bounds))
	assert.Equal(t, facemap.BBox{X: 40, Y: 40, W: 0, H: 0}, ClampBox(40, 40, 30, 30, bounds))

	far := ClampBox(500, 500, 600, 600, bounds)
	assert.Equal(t, 0, far.Area())
	assert.True(t, image.Pt(far.X, far.Y).In(bounds))
}

func TestConvertResults_Haar(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	faces := convertResults(KindHaar, []types.FaceResult{
		{Box: [4]int{0, 0, 30, 30}, Score: 1.0},
		{Box: [4]int{50, 10, 90, 60}, Score: 5.0},
		{Box: [4]int{-10, 40, 20, 200}, Score: 3.0},
	}, bounds, 0.99)

	require.Len(t, faces, 3, "haar weights are never thresholded")
	assert.Equal(t, []float64{0, 1, 0.5}, []float64{faces[0].Confidence, faces[1].Confidence, faces[2].Confidence})
	assert.Equal(t, facemap.BBox{X: 0, Y: 40, W: 20, H: 39}, faces[2].Box)
	for i, f := range faces {
		assert.Equal(t, i, f.Index)
	}
}

func TestConvertResults_ThresholdedModels(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	for _, kind := range []Kind{KindDNN, KindMTCNN} {
		faces := convertResults(kind, []types.FaceResult{
			{Box: [4]int{0, 0, 30, 30}, Score: 0.2},
			{Box: [4]int{50, 10, 90, 60}, Score: 0.93},
			{Box: [4]int{5, 5, 25, 25}, Score: 0.5},
		}, bounds, 0.5)

		require.Len(t, faces, 2, kind.String())
		assert.Equal(t, 0, faces[0].Index)
		assert.Equal(t, 0.93, faces[0].Confidence)
		assert.Equal(t, 1, faces[1].Index)
		assert.Equal(t, facemap.BBox{X: 5, Y: 5, W: 20, H: 20}, faces[1].Box)
	}
}

func TestDetectInFolder(t *testing.T) {
	s := frameStore(t, 3)
	require.NoError(t, os.WriteFile(s.Path("frame_000004.png"), []byte("corrupt"), 0o644))
	require.NoError(t, os.WriteFile(s.Path("notes.txt"), []byte("ignored"), 0o644))

	client := &fakeClient{responses: [][]types.FaceResult{
		{{Box: [4]int{10, 10, 50, 50}, Score: 0.9}},
		nil,
		{{Box: [4]int{0, 0, 20, 20}, Score: 0.8}, {Box: [4]int{60, 10, 99, 70}, Score: 0.7}},
	}}
	d := NewWorkerDetector(KindDNN, client, 0.5)

	var progress []int
	fm, err := DetectInFolder(context.Background(), d, s, func(done int) { progress = append(progress, done) })
	require.NoError(t, err)

	assert.Equal(t, []string{"frame_000001.png", "frame_000002.png", "frame_000003.png"}, fm.Frames(),
		"unreadable frame skipped, empty frame kept")
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, 3, fm.Regions())

	empty, ok := fm.Faces("frame_000002.png")
	assert.True(t, ok)
	assert.Empty(t, empty)

	require.NoError(t, d.Close())
	assert.True(t, client.closed)
}

func TestDetectInFolder_FormatErrors(t *testing.T) {
	d := NewWorkerDetector(KindHaar, &fakeClient{}, 0)
	var fe *framestore.FormatError

	_, err := DetectInFolder(context.Background(), d, framestore.New(filepath.Join(t.TempDir(), "nope")), nil)
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, framestore.ErrNoDir)

	_, err = DetectInFolder(context.Background(), d, framestore.New(t.TempDir()), nil)
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, framestore.ErrEmpty)
}

func TestDetectInFolder_DetectorFailureAborts(t *testing.T) {
	boom := errors.New("model crashed")
	d := NewWorkerDetector(KindMTCNN, &fakeClient{err: boom}, 0.5)

	_, err := DetectInFolder(context.Background(), d, frameStore(t, 2), nil)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindMTCNN, de.Kind)
	assert.Equal(t, "frame_000001.png", de.Frame)
	assert.ErrorIs(t, err, boom)
}

func TestWorkerDetector_CancelledContext(t *testing.T) {
	client := &fakeClient{}
	d := NewWorkerDetector(KindDNN, client, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.calls)
}

func TestOpen_MissingInterpreter(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := Open(context.Background(), KindDNN, Options{Python: "python3", Script: "detect_worker.py"})
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, KindDNN, de.Kind)
}
