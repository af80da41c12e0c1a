package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/studyengine/core/internal/analyzer"
	"github.com/studyengine/core/internal/bank"
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringP("events", "e", "data/events.ndjson", "Path to the NDJSON event log")
	analyzeCmd.Flags().StringP("out", "o", "data/analytics/latest.json", "Path to write the analytics snapshot")
	analyzeCmd.Flags().StringP("items-dir", "i", "content/banks", "Directory to scan for *.item.json files")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the offline analytics pass once",
	Long:  `Reads the NDJSON event log, computes time-to-mastery/ELG/confusion/reliability, and writes a snapshot.`,
	RunE:  runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	eventsPath, _ := cmd.Flags().GetString("events")
	outPath, _ := cmd.Flags().GetString("out")
	itemsDir, _ := cmd.Flags().GetString("items-dir")

	b, err := bank.Load([]string{itemsDir})
	if err != nil {
		return fmt.Errorf("scan %s: %w", itemsDir, err)
	}

	snap, err := analyzer.RunFromFile(eventsPath, outPath, b, time.Now())
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s: %d attempts, %d learners, %d LOs tracked\n",
		outPath, snap.Totals.Attempts, snap.Totals.Learners, len(snap.TTMPerLO))
	return nil
}
