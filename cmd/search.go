package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amirhf/vibesearch/models"
	"github.com/amirhf/vibesearch/search"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find the images closest to a query",
	Long: `Embeds the query text and prints the nearest indexed images, closest
first. Scores are squared L2 distances: lower is more similar.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", search.DefaultTopK, "number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, cleanup, err := loadService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	matches, err := svc.Search(ctx, args[0], searchTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if searchJSON {
		data, err := json.MarshalIndent(models.SearchResponse{Results: models.Items(matches)}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(matches) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(out, "  [%d] %s (%.4f)\n", i+1, m.Path, m.Distance)
	}
	return nil
}
