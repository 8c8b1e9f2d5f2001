package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/pipeline"
	"github.com/andresmejia3/facemark/internal/watermark"
	"github.com/spf13/cobra"
)

// errNotMarked is returned when no face region carries the marker.
var errNotMarked = errors.New("no face region carries the marker")

var verifyOpts Options

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check whether a video still carries the face watermark",
	Long: `Decodes the input and checks every face region for the marker. The face
map stored in the container is used when present; otherwise faces are detected
first. Exits non-zero when no region verifies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, &verifyOpts)
	},
}

func init() {
	addPipelineFlags(verifyCmd, &verifyOpts)
	verifyCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, opts *Options) error {
	resolveOptions(cmd, opts)
	if err := validateVerifyFlags(opts); err != nil {
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
	if !p.FromMetadata() {
		fmt.Fprintf(os.Stderr, "🔍 No stored face map, detecting with %s...\n", detKind)
	}
	rep, err := p.Check(ctx, pipeline.RunOptions{Detector: detKind, Algorithm: algKind})
	if err != nil {
		return fail("Verification failed", err)
	}
	if !rep.Verified {
		fmt.Fprintf(os.Stderr, "\n❌ No %s watermark found in %d face regions\n", algKind, p.FaceMap().Regions())
		return fail("Watermark not found", errNotMarked)
	}
	fmt.Fprintf(os.Stderr, "\n✅ %s watermark verified\n", algKind)
	fmt.Printf("%s\t%d\n", rep.Match.Frame, rep.Match.Face)
	return nil
}

func validateVerifyFlags(opts *Options) error {
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
	return nil
}
