package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facemark/internal/metadata"
	"github.com/spf13/cobra"
)

var (
	inspectJSON  bool
	inspectInput string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the face map stored in a video's container metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateInput(inspectInput); err != nil {
			return err
		}
		fm, ok, err := metadata.NewCodec().Extract(cmd.Context(), inspectInput)
		if err != nil {
			return fail("Failed to read container metadata", err)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "🤷 No face map stored in %s (looked for tag %q)\n", inspectInput, metadata.TagKey(inspectInput))
			return nil
		}

		if inspectJSON {
			fmt.Println(fm.String())
			return nil
		}

		fmt.Fprintf(os.Stderr, "🗂️  %d frames, %d faces\n", fm.Len(), fm.Regions())
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "FRAME\tFACE\tX\tY\tW\tH")
		fmt.Fprintln(w, "-----\t----\t-\t-\t-\t-")
		for _, frame := range fm.Frames() {
			faces, _ := fm.Faces(frame)
			for _, f := range faces {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", frame, f.Index, f.Box.X, f.Box.Y, f.Box.W, f.Box.H)
			}
		}
		return w.Flush()
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectInput, "input", "i", "", "Path to video")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the raw face map JSON")
	inspectCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(inspectCmd)
}
