package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/persistence"
	"podpipe/internal/render"

	"github.com/spf13/cobra"
)

// NewExportCmd creates the export command
func NewExportCmd() *cobra.Command {
	var format, output string
	var transcript bool

	cmd := &cobra.Command{
		Use:   "export <episode-id>",
		Short: "Export an episode summary as markdown or JSON",
		Long: `Export an episode with its summary to a file.

Examples:
  podpipe export 12
  podpipe export 12 --format json --output ./out
  podpipe export 12 --transcript
  podpipe export episodes --csv episodes.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), args[0], format, output, transcript)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Output format (markdown|json)")
	cmd.Flags().StringVarP(&output, "output", "o", "exports", "Output directory")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Append the timestamped transcript (markdown only)")

	cmd.AddCommand(newExportEpisodesCmd())
	return cmd
}

func newExportEpisodesCmd() *cobra.Command {
	var csvPath, status string

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Export the episode table as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExportEpisodes(cmd.Context(), csvPath, status)
		},
	}

	cmd.Flags().StringVar(&csvPath, "csv", "-", "CSV file path, - for stdout")
	cmd.Flags().StringVar(&status, "status", "", "Only export episodes in this status")
	return cmd
}

func runExport(ctx context.Context, arg, format, output string, withTranscript bool) error {
	id, err := parseEpisodeID(arg)
	if err != nil {
		return err
	}
	if format != "markdown" && format != "json" {
		return fmt.Errorf("unknown format %q (want markdown or json)", format)
	}

	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	doc, err := loadDocument(ctx, backend, id, withTranscript)
	if err != nil {
		return err
	}
	if doc.Summary == nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Episode %d has no summary yet (status %s)", id, doc.Episode.Status)))
	}

	var content []byte
	ext := "md"
	if format == "json" {
		ext = "json"
		if content, err = render.EpisodeJSON(*doc); err != nil {
			return err
		}
	} else {
		content = []byte(render.EpisodeMarkdown(*doc))
	}

	path, err := render.WriteToFile(content, output, render.Filename(doc.Episode, ext))
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", okStyle.Render("✓ Exported"), path)
	return nil
}

// loadDocument gathers an episode with its podcast title and stage outputs
func loadDocument(ctx context.Context, backend persistence.Backend, id int64, withTranscript bool) (*render.EpisodeDocument, error) {
	ep, err := backend.GetEpisode(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("episode %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	doc := &render.EpisodeDocument{Episode: *ep}

	podcasts, err := backend.ListPodcasts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range podcasts {
		if p.ID == ep.PodcastID {
			doc.PodcastTitle = p.Title
			break
		}
	}

	if sum, err := backend.GetSummary(ctx, id); err == nil {
		doc.Summary = sum
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	if withTranscript {
		if t, err := backend.GetTranscript(ctx, id); err == nil {
			doc.Transcript = t
		} else if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
	}
	return doc, nil
}

func runExportEpisodes(ctx context.Context, csvPath, status string) error {
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

	var w io.Writer = os.Stdout
	if csvPath != "-" {
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", csvPath, err)
		}
		defer f.Close()
		w = f
	}

	if err := render.WriteEpisodesCSV(w, episodes); err != nil {
		return err
	}
	if csvPath != "-" {
		fmt.Printf("%s %d episodes to %s\n", okStyle.Render("✓ Exported"), len(episodes), csvPath)
	}
	return nil
}
