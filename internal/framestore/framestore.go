// Package framestore manages the directory of decoded frames for the video
// currently loaded. The directory is owned by one pipeline at a time and is
// recreated on every video load.
package framestore

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Pattern is the ffmpeg output pattern for extracted frames (1-based, zero padded).
const Pattern = "frame_%06d.png"

// FormatError reports a frame file or frame directory that cannot be used.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("frame store: %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

var (
	ErrNoDir   = errors.New("frames directory not found")
	ErrEmpty   = errors.New("frames directory is empty")
	ErrInvalid = errors.New("unreadable image")
)

// FrameName returns the file name of the i-th frame (1-based).
func FrameName(i int) string {
	return fmt.Sprintf(Pattern, i)
}

// Store is a handle on one frame directory.
type Store struct {
	dir string
}

// New returns a handle on dir. Nothing is created until Reset.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir is the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Path joins name onto the store directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Reset removes every file from a previous video and recreates an empty directory.
func (s *Store) Reset() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to clear frame store: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create frame store: %w", err)
	}
	logrus.WithFields(logrus.Fields{"dir": s.dir}).Debug("Frame store reset")
	return nil
}

// Teardown removes the directory entirely.
func (s *Store) Teardown() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove frame store: %w", err)
	}
	logrus.WithFields(logrus.Fields{"dir": s.dir}).Debug("Frame store removed")
	return nil
}

// List returns the image files in the directory, sorted by name. A directory
// without any image file is an ErrEmpty FormatError.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &FormatError{Path: s.dir, Err: ErrNoDir}
		}
		return nil, &FormatError{Path: s.dir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, &FormatError{Path: s.dir, Err: ErrEmpty}
	}
	sort.Strings(names)
	return names, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

// Load decodes a frame into an RGBA buffer whose bounds start at (0,0).
func (s *Store) Load(name string) (*image.RGBA, error) {
	path := s.Path(name)
	f, err := os.Open(path)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, &FormatError{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalid, err)}
	}
	if m, ok := src.(*image.RGBA); ok && m.Rect.Min == (image.Point{}) {
		return m, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}

// Save overwrites a frame. PNG files are written losslessly; the file is
// replaced by rename so a crash never leaves a truncated frame behind.
func (s *Store) Save(name string, img *image.RGBA) error {
	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return &FormatError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(tmp, img, &jpeg.Options{Quality: 100})
	default:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(tmp, img)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &FormatError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &FormatError{Path: path, Err: err}
	}
	return nil
}
