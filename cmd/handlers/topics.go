package handlers

import (
	"context"
	"fmt"
	"strings"

	"podpipe/internal/config"

	"github.com/spf13/cobra"
)

// NewTopicsCmd creates the cross-episode topic analysis command
func NewTopicsCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Cluster topics across summarized episodes",
		Long: `Cluster the topics of recent summaries into recurring subjects.

Uses the configured reasoner and falls back to plain frequency counts.
Results are cached in Redis when redis.url is set; --refresh recomputes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd.Context(), refresh)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cached results")
	return cmd
}

func runTopics(ctx context.Context, refresh bool) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	analyzer, closeCache := newAnalyzer(ctx, cfg, backend)
	defer closeCache()

	analysis, err := analyzer.Analyze(ctx, refresh)
	if err != nil {
		return fmt.Errorf("failed to analyze topics: %w", err)
	}
	if len(analysis.Topics) == 0 {
		fmt.Println("No summaries yet. Run: podpipe process")
		return nil
	}

	source := analysis.Source
	if analysis.Cached {
		source += ", cached"
	}
	printHeading(fmt.Sprintf("Topics across %d summaries (%s)", analysis.Summaries, source))

	for i, t := range analysis.Topics {
		fmt.Printf("%2d. %s %s\n", i+1, headingStyle.Render(t.Name), mutedStyle.Render(fmt.Sprintf("(%d mentions, %d episodes)", t.Count, len(t.EpisodeIDs))))
		if t.Description != "" {
			fmt.Printf("    %s\n", t.Description)
		}
		if len(t.RelatedThemes) > 0 {
			fmt.Printf("    themes: %s\n", strings.Join(t.RelatedThemes, ", "))
		}
	}
	return nil
}
