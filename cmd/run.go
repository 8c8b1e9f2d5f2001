package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/pipeline"
	"github.com/andresmejia3/facemark/internal/watermark"
	"github.com/spf13/cobra"
)

var runOpts Options

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect faces, watermark them and write the marked video",
	Long: `Decodes the input into frames, finds faces (or reuses the face map stored
in the container), embeds the marker into every face region, checks that it
can be read back and, with --output, re-encodes the frames losslessly and
stores the face map in the output container.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd, &runOpts)
	},
}

func init() {
	addPipelineFlags(runCmd, &runOpts)
	runCmd.Flags().StringVarP(&runOpts.OutputPath, "output", "o", "", "Path to write the watermarked video (.mkv recommended)")
	runCmd.Flags().BoolVar(&runOpts.Redetect, "redetect", false, "Ignore a face map stored in the input and detect again")
	runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

// addPipelineFlags registers the flags shared by the commands that decode a video.
func addPipelineFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.InputPath, "input", "i", "", "Path to input video")
	cmd.Flags().StringVarP(&opts.Detector, "detector", "d", "haar", "Face detector (haar, dnn, mtcnn)")
	cmd.Flags().StringVarP(&opts.Algorithm, "algorithm", "a", "dct", "Watermark algorithm (lsb, dct, dwt)")
	cmd.Flags().Float64Var(&opts.DetectionThreshold, "threshold", 0.5, "Minimum confidence for dnn and mtcnn detections, 0.0 - 1.0 (default from FACEMARK_DETECTION_THRESHOLD)")
	cmd.Flags().StringVar(&opts.WorkerTimeout, "timeout", "", "Per-frame detection worker deadline, e.g. 30s (0 disables; default from FACEMARK_WORKER_TIMEOUT)")
	cmd.Flags().StringVar(&opts.CascadePath, "cascade", "", "Haar cascade XML for in-process detection (gocv builds only)")
}

func runRun(cmd *cobra.Command, opts *Options) error {
	resolveOptions(cmd, opts)
	if err := validateRunFlags(opts); err != nil {
		return err
	}
	detKind, _ := detector.ParseKind(opts.Detector)
	algKind, _ := watermark.ParseKind(opts.Algorithm)

	ctx := cmd.Context()
	p := newPipeline(ctx, opts)
	defer closePipeline(p)

	if err := openVideo(ctx, p, opts.InputPath); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "💧 Watermarking with %s (detector: %s)...\n", algKind, detKind)
	rep, err := p.Run(ctx, pipeline.RunOptions{
		Detector:  detKind,
		Algorithm: algKind,
		Output:    opts.OutputPath,
		Redetect:  opts.Redetect,
	})
	if err != nil {
		return fail("Watermarking failed", err)
	}

	fmt.Fprintf(os.Stderr, "\n✅ Done. Face map from %s: %d frames, %d faces\n", rep.Source, p.FaceMap().Len(), p.FaceMap().Regions())
	fmt.Fprintf(os.Stderr, "   Embedded %d regions across %d frames (%d skipped)\n", rep.Stats.Embedded, rep.Stats.Frames, rep.Stats.Skipped)
	if rep.Verified {
		fmt.Fprintf(os.Stderr, "   🔒 Marker verified in %s (face %d)\n", rep.Match.Frame, rep.Match.Face)
	} else {
		fmt.Fprintf(os.Stderr, "   ⚠️  Marker could not be read back from any region\n")
	}
	if rep.Output != "" {
		fmt.Fprintf(os.Stderr, "   🎞️  Wrote %s\n", rep.Output)
	}
	return nil
}

// validateRunFlags ensures all CLI arguments are valid before starting heavy processes.
func validateRunFlags(opts *Options) error {
	if err := validateInput(opts.InputPath); err != nil {
		return err
	}
	if _, err := detector.ParseKind(opts.Detector); err != nil {
		return fail("Invalid detector", err)
	}
	if _, err := watermark.ParseKind(opts.Algorithm); err != nil {
		return fail("Invalid algorithm", err)
	}
	if opts.DetectionThreshold < 0 || opts.DetectionThreshold > 1.0 {
		return fail("Invalid detection threshold", fmt.Errorf("must be between 0.0 and 1.0, got %f", opts.DetectionThreshold))
	}
	if _, err := parseWorkerTimeout(opts.WorkerTimeout); err != nil {
		return fail("Invalid timeout format (use '30s', '500ms')", err)
	}
	if opts.OutputPath != "" {
		if sameFile(opts.InputPath, opts.OutputPath) {
			return fail("Output path must differ from the input", nil)
		}
		if dir := filepath.Dir(opts.OutputPath); dir != "" {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fail("Output directory does not exist", fmt.Errorf("%s", dir))
			}
		}
		if ext := strings.ToLower(filepath.Ext(opts.OutputPath)); ext == "" {
			return fail("Output path needs a container extension", fmt.Errorf("e.g. .mkv or .mp4, got %q", opts.OutputPath))
		}
	}
	return nil
}

func validateInput(path string) error {
	if path == "" {
		return fail("Input path is required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fail("Input file does not exist", err)
		}
		return fail("Unable to access input file", err)
	}
	if info.IsDir() {
		return fail("Input path is a directory, expected a video file", nil)
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
