package types

// FaceResult is one detection as reported by the worker.
// Box is [x1, y1, x2, y2] in pixels and may extend past the frame edges.
// Score is the model's raw confidence (Haar level weight, DNN/MTCNN probability).
type FaceResult struct {
	Box   [4]int  `cbor:"box"`
	Score float64 `cbor:"score"`
}

// DetectionPayload is the CBOR body of every worker response.
// A non-empty Error means the worker failed on this frame and Faces is meaningless.
type DetectionPayload struct {
	Faces []FaceResult `cbor:"faces"`
	Error string       `cbor:"error,omitempty"`
}
