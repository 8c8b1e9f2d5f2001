// Package progress reports stage progress to the terminal and to any
// connected websocket clients.
package progress

// Sink receives progress for one stage at a time. Calls come from the
// goroutine running the stage, never concurrently for the same stage.
type Sink interface {
	Init(total int)
	Advance(step int)
	Reset()
}

// Namer is implemented by sinks that label their output with the stage name.
type Namer interface {
	Named(stage string) Sink
}

// Named returns s labelled for stage when s supports labels, else s itself.
func Named(s Sink, stage string) Sink {
	if s == nil {
		return Nop{}
	}
	if n, ok := s.(Namer); ok {
		return n.Named(stage)
	}
	return s
}

// Nop discards everything.
type Nop struct{}

func (Nop) Init(int)    {}
func (Nop) Advance(int) {}
func (Nop) Reset()      {}

// Multi fans every call out to each member in order.
type Multi []Sink

func (m Multi) Init(total int) {
	for _, s := range m {
		s.Init(total)
	}
}

func (m Multi) Advance(step int) {
	for _, s := range m {
		s.Advance(step)
	}
}

func (m Multi) Reset() {
	for _, s := range m {
		s.Reset()
	}
}

func (m Multi) Named(stage string) Sink {
	out := make(Multi, 0, len(m))
	for _, s := range m {
		out = append(out, Named(s, stage))
	}
	return out
}
