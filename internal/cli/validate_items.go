package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/studyengine/core/internal/bank"
)

func init() {
	rootCmd.AddCommand(validateItemsCmd)
	validateItemsCmd.Flags().StringP("dir", "d", "content/banks", "Directory to scan for *.item.json files")
}

var validateItemsCmd = &cobra.Command{
	Use:   "validate-items",
	Short: "Validate every item in the bank",
	Long:  `Loads every *.item.json file under --dir and reports per-file validation failures.`,
	RunE:  runValidateItems,
}

func runValidateItems(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	b, err := bank.Load([]string{dir})
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}

	loadErrs := b.LoadErrors()
	if len(loadErrs) > 0 {
		paths := make([]string, 0, len(loadErrs))
		for p := range loadErrs {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, loadErrs[p])
		}
	}

	total := len(b.All()) + len(loadErrs)
	fmt.Fprintf(os.Stdout, "%d/%d items valid\n", len(b.All()), total)

	if len(loadErrs) > 0 {
		return fmt.Errorf("%d item(s) failed validation", len(loadErrs))
	}
	return nil
}
