package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/store"
)

func TestResolveMaxEpisodes(t *testing.T) {
	cfg := &config.Config{Feeds: config.Feeds{MaxEpisodes: 10}}
	tests := []struct {
		flag, want int
	}{
		{0, 10},
		{3, 3},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := resolveMaxEpisodes(cfg, tt.flag); got != tt.want {
			t.Errorf("resolveMaxEpisodes(%d) = %d, want %d", tt.flag, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := map[float64]string{
		0:      "-",
		59.9:   "0:59",
		125:    "2:05",
		3723.4: "1:02:03",
	}
	for in, want := range tests {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncate("héllo wörld", 8); got != "héllo..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
}

func TestFeedsToProcess_MergesConfigAndRegistered(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "podpipe.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.UpsertPodcast(ctx, "https://a.example.com/feed", "A (db title)", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpsertPodcast(ctx, "https://b.example.com/feed", "B", "news"); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{FeedList: []core.FeedDescriptor{
		{Name: "A", URL: "https://a.example.com/feed", Category: "tech"},
		{Name: "A again", URL: "https://a.example.com/feed"},
	}}

	list, err := feedsToProcess(ctx, cfg, s)
	if err != nil {
		t.Fatalf("feedsToProcess failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 feeds, got %+v", list)
	}
	if list[0].Name != "A" || list[0].Category != "tech" {
		t.Errorf("Configured feed should win, got %+v", list[0])
	}
	if list[1].Name != "B" || list[1].Category != "news" {
		t.Errorf("Registered feed should be appended, got %+v", list[1])
	}
}

func TestNewRootCmd_RegistersCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"feed", "download", "transcribe", "summarize", "process", "run", "reprocess", "episodes", "show", "stats", "topics", "export", "estimate", "migrate", "serve"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %q", name)
		}
	}
}

func TestLoadDocument(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "podpipe.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	podcastID, err := s.UpsertPodcast(ctx, "https://a.example.com/feed", "Systems Show", "tech")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.CreateEpisode(ctx, core.NewEpisode{PodcastID: podcastID, Title: "Queues", SourceURL: "https://cdn.example.com/q.mp3"})
	if err != nil {
		t.Fatal(err)
	}

	doc, err := loadDocument(ctx, s, id, true)
	if err != nil {
		t.Fatalf("loadDocument failed: %v", err)
	}
	if doc.PodcastTitle != "Systems Show" || doc.Episode.Title != "Queues" {
		t.Errorf("Unexpected document %+v", doc)
	}
	if doc.Summary != nil || doc.Transcript != nil {
		t.Errorf("Expected no stage outputs for a downloaded episode")
	}

	if _, err := loadDocument(ctx, s, id+100, false); err == nil {
		t.Error("Expected not found error")
	}
}

func TestEstimateBacklog_UsesConfiguredModels(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "podpipe.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	podcastID, _ := s.UpsertPodcast(ctx, "https://a.example.com/feed", "A", "")
	if _, err := s.CreateEpisode(ctx, core.NewEpisode{PodcastID: podcastID, Title: "One", SourceURL: "https://cdn.example.com/1.mp3", DurationSeconds: 1800}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Transcription: config.Transcription{Model: "whisper-large-v3-turbo"},
		Reasoner:      config.Reasoner{Provider: "gemini", Gemini: config.LLMProvider{Model: "gemini-2.5-flash"}},
	}
	est, err := estimateBacklog(ctx, cfg, s)
	if err != nil {
		t.Fatalf("estimateBacklog failed: %v", err)
	}
	if est.ReasonerModel != "gemini-2.5-flash" || len(est.Episodes) != 1 || est.AudioHours != 0.5 {
		t.Errorf("Unexpected estimate %+v", est)
	}
}
