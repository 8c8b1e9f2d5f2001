package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facemark/internal/detector"
	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/spf13/cobra"
)

var (
	annotateOpts Options
	annotateDir  string
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Write copies of the frames with face boxes drawn on them",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolveOptions(cmd, &annotateOpts)
		if err := validateInput(annotateOpts.InputPath); err != nil {
			return err
		}
		detKind, err := detector.ParseKind(annotateOpts.Detector)
		if err != nil {
			return fail("Invalid detector", err)
		}
		if annotateDir == "" {
			return fail("Output directory is required", nil)
		}
		if filepath.Clean(annotateDir) == filepath.Clean(Cfg.FramesDir) {
			return fail("Output directory must differ from the frames directory", nil)
		}

		ctx := cmd.Context()
		p := newPipeline(ctx, &annotateOpts)
		defer closePipeline(p)

		if err := openVideo(ctx, p, annotateOpts.InputPath); err != nil {
			return err
		}
		if !p.FromMetadata() || annotateOpts.Redetect {
			if err := p.Detect(ctx, detKind); err != nil {
				return fail("Face detection failed", err)
			}
		}

		n, err := p.Annotate(ctx, framestore.New(annotateDir))
		if err != nil {
			return fail("Annotation failed", err)
		}
		fmt.Fprintf(os.Stderr, "\n🖍️  Annotated %d frames into %s\n", n, annotateDir)
		return nil
	},
}

func init() {
	addPipelineFlags(annotateCmd, &annotateOpts)
	annotateCmd.Flags().StringVar(&annotateDir, "out-dir", "", "Directory to write annotated frames (recreated)")
	annotateCmd.Flags().BoolVar(&annotateOpts.Redetect, "redetect", false, "Ignore a face map stored in the input and detect again")
	annotateCmd.MarkFlagRequired("input")
	annotateCmd.MarkFlagRequired("out-dir")
	rootCmd.AddCommand(annotateCmd)
}
