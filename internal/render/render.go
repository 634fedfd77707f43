// Package render turns stored episodes into shareable documents: markdown
// and JSON summaries, and CSV episode listings.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"podpipe/internal/audio"
	"podpipe/internal/core"
)

// EpisodeDocument combines what is needed to render a single episode.
// Summary and Transcript are optional.
type EpisodeDocument struct {
	Episode      core.Episode
	PodcastTitle string
	Summary      *core.Summary
	Transcript   *core.Transcript
}

// SummaryExport is the JSON shape of an exported summary
type SummaryExport struct {
	EpisodeID     int64      `json:"episode_id"`
	Title         string     `json:"title"`
	Podcast       string     `json:"podcast,omitempty"`
	PublishDate   *time.Time `json:"publish_date,omitempty"`
	SourceURL     string     `json:"source_url"`
	Status        string     `json:"status"`
	Synopsis      string     `json:"synopsis,omitempty"`
	KeyTopics     []string   `json:"key_topics,omitempty"`
	Themes        []string   `json:"themes,omitempty"`
	Quotes        []string   `json:"quotes,omitempty"`
	Organizations []string   `json:"organizations,omitempty"`
	Source        string     `json:"summary_source,omitempty"`
	Model         string     `json:"model,omitempty"`
	GeneratedAt   *time.Time `json:"generated_at,omitempty"`
}

// EpisodeMarkdown renders an episode and its summary as markdown. The
// transcript is appended with timestamps when present.
func EpisodeMarkdown(doc EpisodeDocument) string {
	ep := doc.Episode
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", ep.Title)
	if doc.PodcastTitle != "" {
		fmt.Fprintf(&b, "**Podcast:** %s  \n", doc.PodcastTitle)
	}
	if ep.PublishDate != nil {
		fmt.Fprintf(&b, "**Published:** %s  \n", ep.PublishDate.Format("2006-01-02"))
	}
	if ep.DurationSeconds > 0 {
		fmt.Fprintf(&b, "**Duration:** %s  \n", Timestamp(ep.DurationSeconds))
	}
	fmt.Fprintf(&b, "**Source:** %s\n\n", ep.SourceURL)

	if doc.Summary == nil {
		fmt.Fprintf(&b, "_No summary yet (status: %s)._\n", ep.Status)
	} else {
		s := doc.Summary
		b.WriteString("## Summary\n\n")
		b.WriteString(s.Synopsis + "\n\n")
		writeList(&b, "Key Topics", s.Topics)
		writeList(&b, "Themes", s.Themes)
		if len(s.Quotes) > 0 {
			b.WriteString("## Notable Quotes\n\n")
			for _, q := range s.Quotes {
				fmt.Fprintf(&b, "> %s\n\n", q)
			}
		}
		writeList(&b, "Companies Mentioned", s.Organizations)
		fmt.Fprintf(&b, "---\n\n_Summary source: %s (%s), %s_\n", s.Source, s.Model, s.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}

	if t := doc.Transcript; t != nil {
		b.WriteString("\n## Transcript\n\n")
		if len(t.Segments) == 0 {
			b.WriteString(t.FullText + "\n")
		}
		for _, seg := range t.Segments {
			fmt.Fprintf(&b, "**[%s]** %s\n\n", Timestamp(seg.Start), seg.Text)
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// EpisodeJSON renders the summary export as indented JSON
func EpisodeJSON(doc EpisodeDocument) ([]byte, error) {
	ep := doc.Episode
	out := SummaryExport{
		EpisodeID:   ep.ID,
		Title:       ep.Title,
		Podcast:     doc.PodcastTitle,
		PublishDate: ep.PublishDate,
		SourceURL:   ep.SourceURL,
		Status:      string(ep.Status),
	}
	if s := doc.Summary; s != nil {
		out.Synopsis = s.Synopsis
		out.KeyTopics = s.Topics
		out.Themes = s.Themes
		out.Quotes = s.Quotes
		out.Organizations = s.Organizations
		out.Source = s.Source
		out.Model = s.Model
		created := s.CreatedAt.UTC()
		out.GeneratedAt = &created
	}
	return json.MarshalIndent(out, "", "  ")
}

var csvHeader = []string{"id", "podcast_id", "title", "status", "publish_date", "duration_seconds", "file_size_bytes", "source_url", "error_reason", "processed_at"}

// WriteEpisodesCSV writes one row per episode
func WriteEpisodesCSV(w io.Writer, episodes []core.Episode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, ep := range episodes {
		row := []string{
			strconv.FormatInt(ep.ID, 10),
			strconv.FormatInt(ep.PodcastID, 10),
			ep.Title,
			string(ep.Status),
			formatTime(ep.PublishDate),
			strconv.FormatFloat(ep.DurationSeconds, 'f', 1, 64),
			strconv.FormatInt(ep.FileSizeBytes, 10),
			ep.SourceURL,
			ep.ErrorReason,
			formatTime(ep.ProcessedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write episode %d: %w", ep.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Timestamp formats seconds as h:mm:ss or m:ss
func Timestamp(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Filename names an export file after the episode
func Filename(ep core.Episode, ext string) string {
	slug := audio.Slug(ep.Title, 60)
	if slug == "" {
		slug = "episode"
	}
	return fmt.Sprintf("%d-%s.%s", ep.ID, slug, ext)
}

// WriteToFile writes the provided content to a file in the specified directory
func WriteToFile(content []byte, outputDir, filename string) (string, error) {
	if outputDir == "" {
		outputDir = "exports"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", filePath, err)
	}
	return filePath, nil
}
