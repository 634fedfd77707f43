package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podpipe/internal/core"
)

func sampleDoc() EpisodeDocument {
	published := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	return EpisodeDocument{
		Episode: core.Episode{
			ID:              7,
			PodcastID:       1,
			Title:           "Scaling Databases, Part 2",
			PublishDate:     &published,
			SourceURL:       "https://cdn.example.com/ep7.mp3",
			DurationSeconds: 3723,
			Status:          core.StatusProcessed,
		},
		PodcastTitle: "Systems Show",
		Summary: &core.Summary{
			Synopsis:      "A conversation about sharding.",
			Topics:        []string{"sharding", "replication"},
			Themes:        []string{"scaling writes"},
			Quotes:        []string{"Every shard key is a bet on the future."},
			Organizations: []string{"Acme Corp"},
			Source:        core.SummarySourceLLM,
			Model:         "llama-3.3-70b-versatile",
			CreatedAt:     time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestEpisodeMarkdown_WithSummary(t *testing.T) {
	md := EpisodeMarkdown(sampleDoc())

	for _, want := range []string{
		"# Scaling Databases, Part 2",
		"**Podcast:** Systems Show",
		"**Published:** 2025-03-14",
		"**Duration:** 1:02:03",
		"## Summary\n\nA conversation about sharding.",
		"## Key Topics\n\n- sharding\n- replication",
		"> Every shard key is a bet on the future.",
		"## Companies Mentioned\n\n- Acme Corp",
		"_Summary source: llm (llama-3.3-70b-versatile), 2025-03-15 10:00_",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown should contain %q\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Transcript") {
		t.Error("Transcript section should be omitted without a transcript")
	}
}

func TestEpisodeMarkdown_WithoutSummary(t *testing.T) {
	doc := sampleDoc()
	doc.Summary = nil
	doc.Episode.Status = core.StatusTranscribed
	doc.Transcript = &core.Transcript{Segments: []core.Segment{
		{Start: 0, End: 4, Text: "Welcome back."},
		{Start: 65, End: 70, Text: "Let's talk shards."},
	}}

	md := EpisodeMarkdown(doc)
	if !strings.Contains(md, "_No summary yet (status: transcribed)._") {
		t.Errorf("Expected missing summary note:\n%s", md)
	}
	if !strings.Contains(md, "**[1:05]** Let's talk shards.") {
		t.Errorf("Expected timestamped segment:\n%s", md)
	}
}

func TestEpisodeJSON(t *testing.T) {
	raw, err := EpisodeJSON(sampleDoc())
	if err != nil {
		t.Fatalf("EpisodeJSON failed: %v", err)
	}

	var out SummaryExport
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if out.EpisodeID != 7 || out.Podcast != "Systems Show" || out.Status != "processed" {
		t.Errorf("Unexpected header fields: %+v", out)
	}
	if len(out.KeyTopics) != 2 || out.Source != "llm" || out.GeneratedAt == nil {
		t.Errorf("Unexpected summary fields: %+v", out)
	}

	doc := sampleDoc()
	doc.Summary = nil
	raw, _ = EpisodeJSON(doc)
	if strings.Contains(string(raw), "synopsis") {
		t.Errorf("Summary fields should be omitted: %s", raw)
	}
}

func TestWriteEpisodesCSV(t *testing.T) {
	doc := sampleDoc()
	failed := core.Episode{ID: 8, PodcastID: 1, Title: `Quotes "and", commas`, Status: core.StatusFailed, ErrorReason: "invalid audio"}

	var buf bytes.Buffer
	if err := WriteEpisodesCSV(&buf, []core.Episode{doc.Episode, failed}); err != nil {
		t.Fatalf("WriteEpisodesCSV failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Output is not valid CSV: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "id" {
		t.Fatalf("Expected header plus 2 rows, got %v", rows)
	}
	if rows[1][4] != "2025-03-14T00:00:00Z" || rows[1][5] != "3723.0" {
		t.Errorf("Unexpected row: %v", rows[1])
	}
	if rows[2][2] != `Quotes "and", commas` || rows[2][8] != "invalid audio" {
		t.Errorf("Unexpected row: %v", rows[2])
	}
}

func TestFilenameAndWriteToFile(t *testing.T) {
	ep := sampleDoc().Episode
	if got := Filename(ep, "md"); got != "7-scaling-databases-part-2.md" {
		t.Errorf("Unexpected filename %q", got)
	}
	if got := Filename(core.Episode{ID: 3, Title: "日本語"}, "json"); got != "3-episode.json" {
		t.Errorf("Unexpected fallback filename %q", got)
	}

	dir := filepath.Join(t.TempDir(), "nested", "exports")
	path, err := WriteToFile([]byte("hello"), dir, "a.md")
	if err != nil {
		t.Fatalf("WriteToFile failed: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "hello" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestTimestamp(t *testing.T) {
	tests := map[float64]string{0: "0:00", 59.9: "0:59", 65: "1:05", 3723: "1:02:03"}
	for in, want := range tests {
		if got := Timestamp(in); got != want {
			t.Errorf("Timestamp(%v) = %q, want %q", in, got, want)
		}
	}
}
