package handlers

import (
	"context"
	"errors"
	"fmt"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/cost"
	"podpipe/internal/persistence"

	"github.com/spf13/cobra"
)

// NewEstimateCmd creates the cost estimate command
func NewEstimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the API cost of processing pending episodes",
		Long: `Estimate what transcribing and summarizing the current backlog will cost.

Downloaded episodes are priced by audio length; transcribed episodes by
the size of their stored transcript. Nothing is sent to any API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd.Context())
		},
	}
}

func reasonerModel(cfg *config.Config) string {
	if cfg.Reasoner.Provider == "gemini" {
		return cfg.Reasoner.Gemini.Model
	}
	return cfg.Reasoner.Groq.Model
}

func estimateBacklog(ctx context.Context, cfg *config.Config, backend persistence.Backend) (*cost.BacklogEstimate, error) {
	downloaded, err := backend.EpisodesByStatus(ctx, core.StatusDownloaded)
	if err != nil {
		return nil, err
	}
	pending, err := backend.EpisodesByStatus(ctx, core.StatusTranscribed)
	if err != nil {
		return nil, err
	}

	transcribed := make([]cost.TranscribedEpisode, 0, len(pending))
	for _, ep := range pending {
		t, err := backend.GetTranscript(ctx, ep.ID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		transcribed = append(transcribed, cost.TranscribedEpisode{Episode: ep, FullText: t.FullText})
	}

	return cost.EstimateBacklog(downloaded, transcribed, cost.Options{
		TranscriptionModel: cfg.Transcription.Model,
		ReasonerModel:      reasonerModel(cfg),
		MaxInputChars:      cfg.Reasoner.MaxInputChars,
	}), nil
}

func runEstimate(ctx context.Context) error {
	cfg := config.Get()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	est, err := estimateBacklog(ctx, cfg, backend)
	if err != nil {
		return err
	}
	fmt.Print(est.FormatEstimate())
	return nil
}
