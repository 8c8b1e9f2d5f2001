package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

var stageLabels = map[string]string{
	"detect":     "🔍 Detecting faces",
	"embed":      "💧 Embedding watermark",
	"verify":     "🔎 Verifying watermark",
	"annotate":   "🖍️  Annotating frames",
	"reassemble": "🎞️  Reassembling video",
}

// Bar draws a terminal progress bar.
type Bar struct {
	w     io.Writer
	label string
	bar   *progressbar.ProgressBar
}

// NewBar writes bars to w (normally os.Stderr).
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w, label: "⏳ Working"}
}

func (b *Bar) Named(stage string) Sink {
	label, ok := stageLabels[stage]
	if !ok {
		label = stage
	}
	return &Bar{w: b.w, label: label}
}

func (b *Bar) Init(total int) {
	if total <= 0 {
		total = -1 // spinner
	}
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(b.label),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { io.WriteString(b.w, "\n") }),
	)
}

func (b *Bar) Advance(step int) {
	if b.bar == nil {
		return
	}
	b.bar.Add(step)
}

func (b *Bar) Reset() {
	if b.bar == nil {
		return
	}
	b.bar.Reset()
}
