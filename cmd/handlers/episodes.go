package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"podpipe/internal/config"
	"podpipe/internal/core"

	"github.com/spf13/cobra"
)

// NewEpisodesCmd creates the episodes listing command
func NewEpisodesCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "List episodes, optionally by status",
		Long: `List episodes in pipeline order.

Examples:
  podpipe episodes
  podpipe episodes --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodes(cmd.Context(), status)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (downloaded|transcribed|processed|failed)")
	return cmd
}

// NewShowCmd creates the show command
func NewShowCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show an episode with its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), args[0], full)
		},
	}

	cmd.Flags().BoolVar(&full, "transcript", false, "Print the timestamped transcript")
	return cmd
}

// NewStatsCmd creates the stats command
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context())
		},
	}
}

func runEpisodes(ctx context.Context, status string) error {
	statuses := core.AllStatuses
	if status != "" {
		s, err := core.ParseStatus(status)
		if err != nil {
			return err
		}
		statuses = []core.Status{s}
	}

	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var episodes []core.Episode
	for _, s := range statuses {
		eps, err := backend.EpisodesByStatus(ctx, s)
		if err != nil {
			return fmt.Errorf("failed to list episodes: %w", err)
		}
		episodes = append(episodes, eps...)
	}

	if len(episodes) == 0 {
		fmt.Println("No episodes found")
		return nil
	}

	w := newTable()
	fmt.Fprintf(w, "ID\tStatus\tTitle\tDuration\tPublished\tError\n")
	for _, ep := range episodes {
		published := "-"
		if ep.PublishDate != nil {
			published = ep.PublishDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ep.ID,
			statusStyle(ep.Status).Render(string(ep.Status)),
			truncate(ep.Title, 50),
			formatSeconds(ep.DurationSeconds),
			published,
			truncate(ep.ErrorReason, 40),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d\n", len(episodes))
	return nil
}

func runShow(ctx context.Context, arg string, full bool) error {
	id, err := parseEpisodeID(arg)
	if err != nil {
		return err
	}

	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	ep, err := backend.GetEpisode(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("episode %d not found", id)
	}
	if err != nil {
		return err
	}

	printHeading(ep.Title)
	fmt.Printf("Status:    %s\n", statusStyle(ep.Status).Render(string(ep.Status)))
	if ep.ErrorReason != "" {
		fmt.Printf("Error:     %s\n", errStyle.Render(ep.ErrorReason))
	}
	fmt.Printf("Source:    %s\n", ep.SourceURL)
	fmt.Printf("Audio:     %s\n", ep.AudioPath)
	fmt.Printf("Duration:  %s (%.1f MB)\n", formatSeconds(ep.DurationSeconds), float64(ep.FileSizeBytes)/(1<<20))
	if ep.ProcessedAt != nil {
		fmt.Printf("Processed: %s\n", ep.ProcessedAt.Format("2006-01-02 15:04"))
	}

	sum, err := backend.GetSummary(ctx, id)
	switch {
	case err == nil:
		fmt.Println()
		printHeading(fmt.Sprintf("Summary (%s, %s)", sum.Source, sum.Model))
		fmt.Println(sum.Synopsis)
		printList("Topics", sum.Topics)
		printList("Themes", sum.Themes)
		printList("Organizations", sum.Organizations)
		if len(sum.Quotes) > 0 {
			fmt.Println(headingStyle.Render("\nQuotes"))
			for _, q := range sum.Quotes {
				fmt.Printf("  “%s”\n", q)
			}
		}
	case !errors.Is(err, core.ErrNotFound):
		return err
	}

	if !full {
		return nil
	}
	t, err := backend.GetTranscript(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		fmt.Println(mutedStyle.Render("\nNo transcript yet"))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println()
	printHeading(fmt.Sprintf("Transcript (%d segments, %d chunks, %s)", len(t.Segments), t.ChunkCount, t.Language))
	for _, seg := range t.Segments {
		fmt.Printf("%s %s\n", mutedStyle.Render("["+formatSeconds(seg.Start)+"]"), seg.Text)
	}
	if len(t.Segments) == 0 {
		fmt.Println(t.FullText)
	}
	return nil
}

func runStats(ctx context.Context) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	stats, err := backend.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	printHeading(fmt.Sprintf("Pipeline statistics (%s)", backend.Kind()))
	fmt.Printf("Podcasts:    %d\n", stats.Podcasts)
	fmt.Printf("Episodes:    %d\n", stats.Episodes)
	fmt.Printf("Transcripts: %d\n", stats.Transcripts)
	fmt.Printf("Summaries:   %d\n", stats.Summaries)
	fmt.Printf("Storage:     %.2f MB\n", float64(stats.StorageBytes)/(1<<20))

	fmt.Println(headingStyle.Render("\nBy status"))
	w := newTable()
	for _, s := range core.AllStatuses {
		fmt.Fprintf(w, "  %s\t%d\n", statusStyle(s).Render(string(s)), stats.ByStatus[s])
	}
	w.Flush()

	if len(stats.ByFeed) > 0 {
		fmt.Println(headingStyle.Render("\nBy feed"))
		w = newTable()
		titles := make([]string, 0, len(stats.ByFeed))
		for title := range stats.ByFeed {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		for _, title := range titles {
			fmt.Fprintf(w, "  %s\t%d\n", truncate(title, 50), stats.ByFeed[title])
		}
		w.Flush()
	}
	return nil
}

func printList(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("%s %s\n", headingStyle.Render(label+":"), strings.Join(items, ", "))
}

func formatSeconds(s float64) string {
	if s <= 0 {
		return "-"
	}
	total := int(s)
	h, m, sec := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
