package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/andresmejia3/facemark/internal/metadata"
	"github.com/andresmejia3/facemark/internal/pipeline"
	"github.com/andresmejia3/facemark/internal/progress"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newPipeline wires the pipeline used by run, verify and annotate.
// The progress feed, when configured, stops with ctx.
func newPipeline(ctx context.Context, opts *Options) *pipeline.Pipeline {
	detOpts := detector.Options{
		Python:      Cfg.Python,
		Script:      Cfg.WorkerScript,
		Timeout:     Cfg.WorkerTimeout,
		Threshold:   Cfg.DetectionThreshold,
		CascadePath: Cfg.CascadePath,
	}
	if opts != nil {
		detOpts.Threshold = opts.DetectionThreshold
		if opts.CascadePath != "" {
			detOpts.CascadePath = opts.CascadePath
		}
		if d, err := parseWorkerTimeout(opts.WorkerTimeout); err == nil {
			detOpts.Timeout = d
		}
	}

	sinks := progress.Multi{progress.NewBar(os.Stderr)}
	if Cfg.ProgressAddr != "" {
		hub := progress.NewHub()
		go func() {
			if err := hub.Serve(ctx, Cfg.ProgressAddr); err != nil {
				logrus.WithFields(logrus.Fields{"addr": Cfg.ProgressAddr, "error": err}).Warn("Progress feed stopped")
			}
		}()
		sinks = append(sinks, hub)
	}

	deps := pipeline.Deps{
		Frames:   framestore.New(Cfg.FramesDir),
		Video:    pipeline.FFmpeg{},
		Metadata: metadata.NewCodec(),
		OpenDetector: func(ctx context.Context, kind detector.Kind) (detector.Detector, error) {
			return detector.Open(ctx, kind, detOpts)
		},
		Progress: sinks,
	}
	if DB != nil {
		deps.Ledger = DB
	}
	return pipeline.New(deps)
}

// resolveOptions fills unset per-command flags from the configuration.
func resolveOptions(cmd *cobra.Command, opts *Options) {
	if f := cmd.Flags().Lookup("threshold"); f == nil || !f.Changed {
		opts.DetectionThreshold = Cfg.DetectionThreshold
	}
}

// openVideo loads the input and reports where its face map came from.
func openVideo(ctx context.Context, p *pipeline.Pipeline, path string) error {
	if total := utils.GetTotalFrames(ctx, path); total > 0 {
		fmt.Fprintf(os.Stderr, "📼 Decoding %s (%d frames)...\n", path, total)
	} else {
		fmt.Fprintf(os.Stderr, "📼 Decoding %s...\n", path)
	}
	if err := p.Open(ctx, path); err != nil {
		return fail("Failed to open video", err)
	}
	if p.FromMetadata() {
		fmt.Fprintf(os.Stderr, "🗂️  Found face map in container metadata (%d frames, %d faces)\n",
			p.FaceMap().Len(), p.FaceMap().Regions())
	}
	return nil
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Warn("Cleanup failed")
	}
}
