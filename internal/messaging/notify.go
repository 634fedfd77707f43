package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/logger"
	"podpipe/internal/render"
)

// SummarySource is the storage the notifier reads from
type SummarySource interface {
	ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error)
	GetEpisode(ctx context.Context, id int64) (*core.Episode, error)
}

// CollectSince returns documents for summaries written at or after since,
// newest first
func CollectSince(ctx context.Context, src SummarySource, since time.Time) ([]render.EpisodeDocument, error) {
	summaries, err := src.ListSummaries(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}

	var docs []render.EpisodeDocument
	for _, es := range summaries {
		if es.Summary.CreatedAt.Before(since) {
			continue
		}
		ep, err := src.GetEpisode(ctx, es.EpisodeID)
		if err != nil {
			return nil, fmt.Errorf("episode %d: %w", es.EpisodeID, err)
		}
		summary := es.Summary
		docs = append(docs, render.EpisodeDocument{
			Episode:      *ep,
			PodcastTitle: es.PodcastTitle,
			Summary:      &summary,
		})
	}
	return docs, nil
}

// Broadcast sends docs to every configured platform. A failing platform
// does not stop the others.
func (c *MessagingClient) Broadcast(ctx context.Context, docs []render.EpisodeDocument, title string) error {
	if len(docs) == 0 {
		return nil
	}
	var errs []error
	for _, p := range c.Platforms() {
		if err := c.SendMessage(ctx, p, docs, title); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("Notification sent", "platform", p, "episodes", len(docs))
	}
	return errors.Join(errs...)
}
