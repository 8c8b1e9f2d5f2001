// Package facemap holds the per-frame face regions that flow from detection
// through watermark embedding, verification and container metadata.
package facemap

import (
	"fmt"
	"image"
)

// BBox is a face bounding box in pixel units.
type BBox struct {
	X int
	Y int
	W int
	H int
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area returns W*H, or 0 for degenerate boxes.
func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Face is a single detection inside one frame.
//
// Index is the detection order within the frame, not an identity across frames.
// Confidence is in [0,1]. It does not survive a metadata round trip: faces
// recovered from a container always report 1.0.
type Face struct {
	Index      int
	Box        BBox
	Confidence float64
}

// FaceMap maps frame names to their detected faces, in frame emission order.
// A FaceMap is immutable once built; replace it wholesale instead of editing it.
type FaceMap struct {
	keys  []string
	faces map[string][]Face
}

// Empty returns a map with no frames.
func Empty() *FaceMap {
	return &FaceMap{faces: map[string][]Face{}}
}

// Len is the number of frames in the map, including frames with no faces.
func (m *FaceMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Frames returns the frame names in insertion order.
func (m *FaceMap) Frames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Faces returns a copy of the faces recorded for frame.
func (m *FaceMap) Faces(frame string) ([]Face, bool) {
	if m == nil {
		return nil, false
	}
	faces, ok := m.faces[frame]
	if !ok {
		return nil, false
	}
	out := make([]Face, len(faces))
	copy(out, faces)
	return out, true
}

// Regions counts faces across every frame.
func (m *FaceMap) Regions() int {
	if m == nil {
		return 0
	}
	n := 0
	for _, k := range m.keys {
		n += len(m.faces[k])
	}
	return n
}

// Each calls fn for every frame in order until fn returns false.
func (m *FaceMap) Each(fn func(frame string, faces []Face) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.faces[k]) {
			return
		}
	}
}

// Builder assembles a FaceMap one frame at a time.
type Builder struct {
	m     *FaceMap
	built bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{m: Empty()}
}

// Add records the faces of one frame. Each frame may be added once; a frame
// with no detections is recorded with an empty list.
func (b *Builder) Add(frame string, faces []Face) error {
	if b.built {
		return fmt.Errorf("facemap: builder already finished")
	}
	if frame == "" {
		return fmt.Errorf("facemap: empty frame name")
	}
	if _, dup := b.m.faces[frame]; dup {
		return fmt.Errorf("facemap: duplicate frame %q", frame)
	}
	for _, f := range faces {
		if f.Box.W < 0 || f.Box.H < 0 {
			return fmt.Errorf("facemap: frame %q face %d has negative size %dx%d", frame, f.Index, f.Box.W, f.Box.H)
		}
	}
	cp := make([]Face, len(faces))
	copy(cp, faces)
	b.m.keys = append(b.m.keys, frame)
	b.m.faces[frame] = cp
	return nil
}

// Build freezes the map. The Builder cannot be used afterwards.
func (b *Builder) Build() *FaceMap {
	b.built = true
	return b.m
}
