package handlers

import (
	"context"
	"errors"
	"fmt"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/feeds"
	"podpipe/internal/logger"

	"github.com/spf13/cobra"
)

// NewFeedCmd creates the feed management command
func NewFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Manage podcast feeds",
		Long: `Manage podcast feeds.

Feeds listed under feed_list in the config file are always processed.
Feeds registered with 'feed add' are stored in the database and processed
alongside them.

Subcommands:
  add              Register a feed
  list             List registered feeds with episode counts
  remove-episodes  Delete every episode of a feed with its transcripts and summaries`,
	}

	cmd.AddCommand(newFeedAddCmd())
	cmd.AddCommand(newFeedListCmd())
	cmd.AddCommand(newFeedRemoveEpisodesCmd())

	return cmd
}

func newFeedAddCmd() *cobra.Command {
	var name, category string

	cmd := &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Register a podcast feed",
		Long: `Register a podcast feed.

The feed is fetched once to validate it and read its title.

Examples:
  podpipe feed add https://feeds.example.com/show.xml
  podpipe feed add https://feeds.example.com/show.xml --name "The Show" --category tech`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedAdd(cmd.Context(), args[0], name, category)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (default: feed title)")
	cmd.Flags().StringVar(&category, "category", "", "Category label")

	return cmd
}

func newFeedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedList(cmd.Context())
		},
	}
}

func newFeedRemoveEpisodesCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "remove-episodes <feed-url>",
		Short: "Delete all episodes of a feed",
		Long: `Delete every episode of a feed together with its transcripts and summaries.

The feed itself stays registered. Audio files on disk are not removed.
Use --force to skip the confirmation prompt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedRemoveEpisodes(cmd.Context(), args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func runFeedAdd(ctx context.Context, feedURL, name, category string) error {
	cfg := config.Get()
	logger.Info("Adding feed", "url", feedURL)

	parsed, err := feeds.NewFeedManager(cfg.Feeds.UserAgent, cfg.Feeds.Timeout).Parse(ctx, feedURL)
	if err != nil {
		return fmt.Errorf("failed to add feed: %w", err)
	}
	if name == "" {
		name = parsed.Title
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	id, err := backend.UpsertPodcast(ctx, feedURL, name, category)
	if err != nil {
		return fmt.Errorf("failed to save feed: %w", err)
	}

	fmt.Println(okStyle.Render("✓ Feed registered"))
	fmt.Printf("   ID:       %d\n", id)
	fmt.Printf("   Title:    %s\n", name)
	fmt.Printf("   URL:      %s\n", feedURL)
	fmt.Printf("   Episodes: %d in feed\n", len(parsed.Episodes))
	fmt.Println("\nNext steps:")
	fmt.Println("  • Download episodes: podpipe download --max-episodes 3")
	fmt.Println("  • Process everything: podpipe run")

	return nil
}

func runFeedList(ctx context.Context) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	list, err := feedsToProcess(ctx, cfg, backend)
	if err != nil {
		return fmt.Errorf("failed to list feeds: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No feeds found")
		fmt.Println("\nAdd your first feed:")
		fmt.Println("  podpipe feed add <feed-url>")
		return nil
	}

	stats, err := backend.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	printHeading("Feeds")
	w := newTable()
	fmt.Fprintf(w, "Title\tCategory\tEpisodes\tURL\n")
	for _, f := range list {
		title := f.Name
		if p, err := backend.PodcastByURL(ctx, f.URL); err == nil {
			title = p.Title
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", truncate(title, 40), f.Category, stats.ByFeed[title], f.URL)
	}
	w.Flush()

	fmt.Printf("\nTotal feeds: %d\n", len(list))
	return nil
}

func runFeedRemoveEpisodes(ctx context.Context, feedURL string, force bool) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	podcast, err := backend.PodcastByURL(ctx, feedURL)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("feed %s is not registered", feedURL)
	}
	if err != nil {
		return err
	}

	if !force {
		fmt.Printf("Delete every episode of %q with its transcripts and summaries? (yes/no): ", podcast.Title)
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if response != "yes" {
			fmt.Println("Cancelled")
			return nil
		}
	}

	n, err := backend.DeletePodcastEpisodes(ctx, podcast.ID)
	if err != nil {
		return fmt.Errorf("failed to delete episodes: %w", err)
	}

	logger.Info("Removed feed episodes", "feed", feedURL, "count", n)
	fmt.Println(okStyle.Render(fmt.Sprintf("✓ Removed %d episodes", n)))
	return nil
}
