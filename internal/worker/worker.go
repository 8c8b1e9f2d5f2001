package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facemark/internal/types"
	"github.com/andresmejia3/facemark/internal/utils" // Using the SafeCommand wrapper
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// maxPayload bounds a single response so a corrupted header cannot make us allocate gigabytes.
const maxPayload = 16 << 20

// ErrWorker wraps failures reported by the worker itself (as opposed to pipe errors).
var ErrWorker = errors.New("python worker error")

// Options selects the interpreter, script and model the worker runs.
type Options struct {
	Python  string
	Script  string
	Model   string
	Timeout time.Duration // per frame; zero disables the deadline
}

type PythonWorker struct {
	ID       int
	Model    string
	Timeout  time.Duration
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

func NewPythonWorker(ctx context.Context, id int, opts Options) (*PythonWorker, error) {
	if _, err := utils.LookupTool(opts.Python); err != nil {
		return nil, err
	}

	// 1. Initialize the SafeCommand; the context kills the sidecar on shutdown
	py := utils.NewSafeCommand(ctx, opts.Python, "-u", opts.Script, "--model", opts.Model)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	logrus.WithFields(logrus.Fields{
		"worker": id,
		"model":  opts.Model,
		"pid":    py.Process.Pid,
	}).Debug("Detection worker started")

	return &PythonWorker{
		ID:       id,
		Model:    opts.Model,
		Timeout:  opts.Timeout,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one request and returns the raw response body.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// os.File pipes support deadlines; in-memory pipes in tests do not.
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.Timeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.Timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	// Read Result
	// Now we read from our clean DataPipe, so no Magic Byte is needed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxPayload {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends one encoded frame and decodes the detections.
func (w *PythonWorker) ProcessFrame(data []byte) ([]types.FaceResult, error) {
	body, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	var payload types.DetectionPayload
	if err := cbor.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid worker payload: %w", err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrWorker, payload.Error)
	}
	return payload.Faces, nil
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
