package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/andresmejia3/facemark/internal/types"
	"github.com/fxamacker/cbor/v2"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// writeResponse frames payload the way the worker writes to FD 3.
func writeResponse(t *testing.T, pipe *MockCloser, payload types.DetectionPayload) {
	t.Helper()
	body, err := cbor.Marshal(payload)
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	binary.Write(pipe, binary.BigEndian, uint32(len(body)))
	pipe.Write(body)
}

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       1,
		Model:    "dnn",
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestProcessFrame(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	writeResponse(t, dataPipeMock, types.DetectionPayload{
		Faces: []types.FaceResult{
			{Box: [4]int{10, 12, 74, 80}, Score: 0.97},
			{Box: [4]int{-5, 0, 20, 30}, Score: 0.41},
		},
	})

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if n := binary.BigEndian.Uint32(sentData[:4]); n != uint32(len(inputFrame)) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), n)
	}
	if !bytes.Equal(sentData[4:], inputFrame) {
		t.Errorf("Frame bytes were not forwarded verbatim")
	}

	// Verify Go read the correct data FROM Python
	if len(faces) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(faces))
	}
	if faces[0].Box != [4]int{10, 12, 74, 80} || faces[0].Score != 0.97 {
		t.Errorf("Unexpected first face: %+v", faces[0])
	}
	if faces[1].Box[0] != -5 {
		t.Errorf("Boxes are passed through unclamped, got %+v", faces[1])
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	writeResponse(t, dataPipeMock, types.DetectionPayload{})

	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	errMsg := "Python Exception: Import Error"
	writeResponse(t, dataPipeMock, types.DetectionPayload{Error: errMsg})

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Crash(t *testing.T) {
	// The worker died before answering: the data pipe is empty.
	w, _, _ := newMockWorker()
	_, err := w.ProcessFrame([]byte("frame"))
	if !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF from a dead worker, got %v", err)
	}
}

func TestProcessFrame_Garbage(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	body := []byte{0xff, 0x00, 0x13}
	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(body)))
	dataPipeMock.Write(body)

	if _, err := w.ProcessFrame([]byte("frame")); err == nil {
		t.Fatal("Expected decode error, got nil")
	}
}

func TestCommunicate_OversizedHeader(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	binary.Write(dataPipeMock, binary.BigEndian, uint32(maxPayload+1))

	if _, err := w.Communicate([]byte("frame")); err == nil {
		t.Fatal("Expected size error, got nil")
	}
}
