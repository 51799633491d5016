package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/hscode-copilot/internal/cli"
	"github.com/Veraticus/hscode-copilot/internal/common"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the HS code search service directly",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().Int("top-k", 0, "maximum number of results (default from search.top_k)")
	cmd.Flags().Float64("threshold", -1, "minimum similarity score (default from search.threshold)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if topK <= 0 {
		topK = cfg.Search.TopK
	}
	if threshold < 0 {
		threshold = cfg.Search.Threshold
	}
	if threshold > 1 {
		return common.Validationf("threshold must be between 0 and 1, got %.2f", threshold)
	}

	source, err := newSource(cfg, nil)
	if err != nil {
		return err
	}
	defer source.Close()

	query := strings.Join(args, " ")
	candidates, err := source.Search(cmd.Context(), query, topK, threshold)
	if err != nil {
		return userError(common.NewUpstreamError("candidate source", err))
	}

	cmd.Println(cli.FormatTitle(fmt.Sprintf("%d results for %q", len(candidates), query)))
	cmd.Println(cli.RenderCandidates(candidates, topK))
	return nil
}
