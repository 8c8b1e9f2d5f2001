package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/spf13/cobra"
)

var (
	historyVideo string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded watermarking runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd)
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyVideo, "input", "i", "", "Only show runs for this video")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command) error {
	if DB == nil {
		return fail("No run ledger configured", errors.New("set --db, FACEMARK_DB or POSTGRES_* variables"))
	}

	videoID := ""
	if historyVideo != "" {
		id, err := utils.GenerateVideoID(historyVideo)
		if err != nil {
			return fail("Failed to generate video ID", err)
		}
		videoID = id
	}

	runs, err := DB.ListRuns(cmd.Context(), videoID, historyLimit)
	if err != nil {
		return fail("Failed to list runs", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tVIDEO\tALGORITHM\tSOURCE\tFACES\tEMBEDDED\tVERIFIED\tSTARTED\tRESULT")
	fmt.Fprintln(w, "--\t-----\t---------\t------\t-----\t--------\t--------\t-------\t------")
	for _, r := range runs {
		result := "ok"
		if r.Error != "" {
			result = r.Error
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%t\t%s\t%s\n",
			r.ID, shortID(r.VideoID), r.Algorithm, r.Source, r.Regions, r.Embedded, r.Verified,
			r.StartedAt.Local().Format("2006-01-02 15:04"), result)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
