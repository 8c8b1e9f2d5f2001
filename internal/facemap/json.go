package facemap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MarshalJSON writes {"frame": [[x,y,w,h], ...], ...} with keys in frame
// order. Index and confidence are not written.
func (m *FaceMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Frames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		faces := m.faces[k]
		boxes := make([][4]int, len(faces))
		for j, f := range faces {
			boxes[j] = [4]int{f.Box.X, f.Box.Y, f.Box.W, f.Box.H}
		}
		val, err := json.Marshal(boxes)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the compact JSON form used as the container tag value.
func (m *FaceMap) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Parse reads the JSON form written by MarshalJSON, preserving key order.
// Every recovered face gets its array position as Index and Confidence 1.0.
func Parse(data []byte) (*FaceMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("facemap: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("facemap: expected object, got %v", tok)
	}

	b := NewBuilder()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("facemap: %w", err)
		}
		frame, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("facemap: expected frame name, got %v", tok)
		}

		var boxes [][]int
		if err := dec.Decode(&boxes); err != nil {
			return nil, fmt.Errorf("facemap: frame %q: %w", frame, err)
		}
		faces := make([]Face, 0, len(boxes))
		for i, box := range boxes {
			if len(box) != 4 {
				return nil, fmt.Errorf("facemap: frame %q box %d has %d values, want 4", frame, i, len(box))
			}
			faces = append(faces, Face{
				Index:      i,
				Box:        BBox{X: box[0], Y: box[1], W: box[2], H: box[3]},
				Confidence: 1.0,
			})
		}
		if err := b.Add(frame, faces); err != nil {
			return nil, err
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("facemap: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("facemap: trailing data after object")
	}
	return b.Build(), nil
}
