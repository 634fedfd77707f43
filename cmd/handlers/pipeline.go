package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/messaging"
	"podpipe/internal/persistence"
	"podpipe/internal/pipeline"

	"github.com/spf13/cobra"
)

// NewDownloadCmd creates the download command
func NewDownloadCmd() *cobra.Command {
	var maxEpisodes int

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download new episodes from every feed",
		Long: `Download new episodes from every configured and registered feed.

Only the newest --max-episodes entries of each feed are considered, so
repeating the command adds nothing until a feed publishes. Episodes whose
audio URL is already known are skipped without a network fetch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), maxEpisodes)
		},
	}

	cmd.Flags().IntVar(&maxEpisodes, "max-episodes", 0, "New episodes per feed (default from config, <0 for all)")
	return cmd
}

// NewTranscribeCmd creates the transcribe command
func NewTranscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe [episode-id]",
		Short: "Transcribe one episode or every downloaded episode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleStage(cmd.Context(), pipeline.StageTranscribe, args)
		},
	}
}

// NewSummarizeCmd creates the summarize command
func NewSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [episode-id]",
		Short: "Summarize one episode or every transcribed episode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleStage(cmd.Context(), pipeline.StageSummarize, args)
		},
	}
}

// NewProcessCmd creates the process command
func NewProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [episode-id]",
		Short: "Transcribe and summarize pending episodes",
		Long: `Transcribe every downloaded episode, then summarize every transcribed one.

With an episode id, runs both stages for that episode only. Ctrl-C stops
launching new work; calls already in flight finish or time out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context(), args)
		},
	}
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var maxEpisodes int
	var notify bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download new episodes, then transcribe and summarize",
		Long: `Download new episodes, then transcribe and summarize everything pending.

With --notify, episodes summarized during the run are posted to the Slack
and Discord webhooks from the notify config section.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll(cmd.Context(), maxEpisodes, notify)
		},
	}

	cmd.Flags().IntVar(&maxEpisodes, "max-episodes", 0, "New episodes per feed (default from config, <0 for all)")
	cmd.Flags().BoolVar(&notify, "notify", false, "Post new summaries to the configured webhooks")
	return cmd
}

// NewReprocessCmd creates the reprocess command
func NewReprocessCmd() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "reprocess <episode-id>",
		Short: "Force an episode back to an earlier stage and process it again",
		Long: `Force an episode back to an earlier stage and process it again.

--from downloaded   drop the transcript and summary, transcribe again
--from transcribed  drop the summary, summarize again

This is the only way to revive a failed episode.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprocess(cmd.Context(), args[0], from)
		},
	}

	cmd.Flags().StringVar(&from, "from", string(core.StatusTranscribed), "Stage to restart from (downloaded|transcribed)")
	return cmd
}

func parseEpisodeID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid episode id %q", arg)
	}
	return id, nil
}

func resolveMaxEpisodes(cfg *config.Config, flag int) int {
	switch {
	case flag < 0:
		return 0
	case flag == 0:
		return cfg.Feeds.MaxEpisodes
	default:
		return flag
	}
}

// withPipeline opens the backend and builds the pipeline for one command
func withPipeline(ctx context.Context, requireSTT bool, fn func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	p, err := newPipeline(ctx, cfg, backend, requireSTT)
	if err != nil {
		return err
	}
	return fn(cfg, backend, p)
}

func runDownload(ctx context.Context, maxEpisodes int) error {
	return withPipeline(ctx, false, func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error {
		list, err := feedsToProcess(ctx, cfg, backend)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No feeds configured. Add one with: podpipe feed add <feed-url>")
			return nil
		}

		report, err := p.Download(ctx, list, resolveMaxEpisodes(cfg, maxEpisodes))
		if report != nil {
			printDownloadReport(report)
		}
		return err
	})
}

func runSingleStage(ctx context.Context, stage string, args []string) error {
	return withPipeline(ctx, stage == pipeline.StageTranscribe, func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error {
		if len(args) == 1 {
			id, err := parseEpisodeID(args[0])
			if err != nil {
				return err
			}
			var outcome pipeline.Outcome
			if stage == pipeline.StageTranscribe {
				outcome, err = p.TranscribeEpisode(ctx, id)
			} else {
				outcome, err = p.SummarizeEpisode(ctx, id)
			}
			if err != nil {
				return fmt.Errorf("episode %d: %w", id, err)
			}
			fmt.Printf("Episode %d %s: %s\n", id, stage, outcome)
			return nil
		}

		var report *pipeline.StageReport
		var err error
		if stage == pipeline.StageTranscribe {
			report, err = p.TranscribeAll(ctx)
		} else {
			report, err = p.SummarizeAll(ctx)
		}
		if err != nil {
			return err
		}
		printStageReport(*report)
		return nil
	})
}

func runProcess(ctx context.Context, args []string) error {
	return withPipeline(ctx, true, func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error {
		if len(args) == 1 {
			id, err := parseEpisodeID(args[0])
			if err != nil {
				return err
			}
			report, err := p.ProcessEpisode(ctx, id)
			if report != nil {
				printEpisodeReport(report)
			}
			return err
		}

		report, err := p.RunBatch(ctx)
		if report != nil {
			printBatchReport(report)
		}
		return err
	})
}

func runAll(ctx context.Context, maxEpisodes int, notify bool) error {
	return withPipeline(ctx, true, func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error {
		var notifier *messaging.MessagingClient
		if notify {
			notifier = messaging.NewMessagingClient(cfg.Notify.SlackWebhookURL, cfg.Notify.DiscordWebhookURL)
			if len(notifier.Platforms()) == 0 {
				return fmt.Errorf("--notify needs notify.slack_webhook_url or notify.discord_webhook_url")
			}
		}
		started := time.Now()

		list, err := feedsToProcess(ctx, cfg, backend)
		if err != nil {
			return err
		}

		report, err := p.Run(ctx, list, resolveMaxEpisodes(cfg, maxEpisodes))
		if report != nil {
			if report.Download != nil {
				printDownloadReport(report.Download)
			}
			if report.Batch != nil {
				fmt.Println()
				printBatchReport(report.Batch)
			}
		}
		if err != nil || notifier == nil {
			return err
		}
		return sendNotifications(ctx, backend, notifier, started, cfg.Notify.Title)
	})
}

func sendNotifications(ctx context.Context, backend persistence.Backend, notifier *messaging.MessagingClient, since time.Time, title string) error {
	docs, err := messaging.CollectSince(ctx, backend, since)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println(mutedStyle.Render("No new summaries to announce"))
		return nil
	}
	if err := notifier.Broadcast(ctx, docs, title); err != nil {
		return fmt.Errorf("notification failed: %w", err)
	}
	fmt.Printf("Announced %d episodes\n", len(docs))
	return nil
}

func runReprocess(ctx context.Context, arg, from string) error {
	id, err := parseEpisodeID(arg)
	if err != nil {
		return err
	}
	status, err := core.ParseStatus(from)
	if err != nil {
		return err
	}

	return withPipeline(ctx, status == core.StatusDownloaded, func(cfg *config.Config, backend persistence.Backend, p *pipeline.Pipeline) error {
		report, err := p.ForceReprocess(ctx, id, status)
		if report != nil {
			printEpisodeReport(report)
		}
		return err
	})
}

func printDownloadReport(r *pipeline.DownloadReport) {
	printHeading("Download")
	w := newTable()
	fmt.Fprintf(w, "Feed\tNew\tExisting\tFailed\tNote\n")
	for _, f := range r.Feeds {
		note := ""
		if f.Skipped {
			note = warnStyle.Render("skipped: " + f.SkipReason)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", truncate(f.Feed.Name, 40), len(f.NewEpisodeIDs), f.Existing, len(f.Failures), note)
	}
	w.Flush()

	for _, f := range r.Feeds {
		for _, failure := range f.Failures {
			fmt.Println(errStyle.Render(fmt.Sprintf("  ✗ %s: %v", truncate(failure.Title, 50), failure.Err)))
		}
	}
	fmt.Printf("\nNew: %d | Existing: %d | Failed: %d | Skipped feeds: %d | %s\n",
		r.NewEpisodes, r.Existing, r.Failures, r.Skipped, r.Duration.Round(time.Millisecond))
}

func printStageReport(r pipeline.StageReport) {
	line := fmt.Sprintf("%-11s succeeded %d, skipped %d, failed %d, retryable %d",
		r.Stage, r.Succeeded, r.Skipped, r.Failed, r.Retryable)
	if r.Fallbacks > 0 {
		line += fmt.Sprintf(", fallback summaries %d", r.Fallbacks)
	}
	fmt.Println(line)
	for _, e := range r.Errors {
		style := errStyle
		if e.Retryable {
			style = warnStyle
		}
		fmt.Println(style.Render("  ✗ " + e.Error()))
	}
}

func printBatchReport(r *pipeline.BatchReport) {
	printHeading("Batch")
	printStageReport(r.Transcription)
	printStageReport(r.Summarization)
	if r.Cancelled {
		fmt.Println(warnStyle.Render("Cancelled: remaining episodes were left for the next run"))
	}
	fmt.Printf("Elapsed: %s\n", r.Duration.Round(time.Millisecond))
}

func printEpisodeReport(r *pipeline.EpisodeReport) {
	fmt.Printf("Episode %d: transcribed=%t summarized=%t fallback=%t status=%s\n",
		r.EpisodeID, r.Transcribed, r.Summarized, r.Fallback, statusStyle(r.FinalStatus).Render(string(r.FinalStatus)))
}
