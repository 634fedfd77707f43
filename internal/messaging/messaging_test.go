package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/render"
)

func docs(n int) []render.EpisodeDocument {
	out := make([]render.EpisodeDocument, n)
	for i := range out {
		out[i] = render.EpisodeDocument{
			Episode:      core.Episode{ID: int64(i + 1), Title: fmt.Sprintf("Episode %d", i+1), SourceURL: fmt.Sprintf("https://cdn.example.com/%d.mp3", i+1)},
			PodcastTitle: "Systems Show",
			Summary: &core.Summary{
				Synopsis:      "A long talk about queues.",
				Topics:        []string{"queues", "backpressure"},
				Organizations: []string{"Acme Corp"},
			},
		}
	}
	return out
}

func TestConvertToSlackMessage(t *testing.T) {
	msg := ConvertToSlackMessage(docs(12), "New episodes")

	if msg.Blocks[0].Type != "header" || msg.Blocks[0].Text.Text != "New episodes" {
		t.Errorf("Expected header block, got %+v", msg.Blocks[0])
	}
	body := msg.Blocks[2].Text.Text
	if !strings.Contains(body, "*<https://cdn.example.com/1.mp3|Episode 1>* (Systems Show)") {
		t.Errorf("Expected linked title, got %s", body)
	}
	if !strings.Contains(body, "_queues · backpressure_") {
		t.Errorf("Expected topics line, got %s", body)
	}
	if strings.Contains(body, "Episode 11") || !strings.Contains(body, "and 2 more") {
		t.Errorf("Expected list capped at 10 items, got %s", body)
	}
	if !strings.Contains(msg.Blocks[3].Elements[0].Text, "12 episodes") {
		t.Errorf("Unexpected footer %q", msg.Blocks[3].Elements[0].Text)
	}
}

func TestConvertToDiscordMessage(t *testing.T) {
	msg := ConvertToDiscordMessage(docs(2), "New episodes")
	if len(msg.Embeds) != 2 {
		t.Fatalf("Expected 2 embeds, got %d", len(msg.Embeds))
	}
	e := msg.Embeds[0]
	if e.Title != "Episode 1" || e.Description != "A long talk about queues." || e.Footer.Text != "Systems Show" {
		t.Errorf("Unexpected embed %+v", e)
	}
	if len(e.Fields) != 2 || e.Fields[1].Value != "Acme Corp" {
		t.Errorf("Unexpected fields %+v", e.Fields)
	}
}

func TestSendMessage(t *testing.T) {
	var got []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		got = append(got, m)
		if r.URL.Path == "/discord" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.URL.Path == "/broken" {
			http.Error(w, "invalid_payload", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewMessagingClient(server.URL+"/slack", server.URL+"/discord")
	if p := c.Platforms(); len(p) != 2 {
		t.Fatalf("Expected both platforms, got %v", p)
	}

	ctx := context.Background()
	for _, p := range c.Platforms() {
		if err := c.SendMessage(ctx, p, docs(1), "New episodes"); err != nil {
			t.Errorf("SendMessage(%s) failed: %v", p, err)
		}
	}
	if len(got) != 2 || got[0]["username"] != "podpipe" || got[1]["content"] != "**New episodes**" {
		t.Errorf("Unexpected payloads %v", got)
	}

	c.SlackWebhookURL = server.URL + "/broken"
	err := c.SendMessage(ctx, PlatformSlack, docs(1), "x")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("Expected status error, got %v", err)
	}

	if err := NewMessagingClient("", "").SendMessage(ctx, PlatformDiscord, docs(1), "x"); err == nil {
		t.Error("Expected error without webhook URL")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	if err := ValidateWebhookURL(PlatformSlack, "https://hooks.slack.com/services/T/B/X"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateWebhookURL(PlatformDiscord, "https://example.com/hook"); err == nil {
		t.Error("Expected invalid Discord URL")
	}
	if err := ValidateWebhookURL(PlatformSlack, ""); err == nil {
		t.Error("Expected empty URL error")
	}
}

type fakeSource struct {
	summaries []core.EpisodeSummary
	episodes  map[int64]*core.Episode
}

func (f *fakeSource) ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error) {
	return f.summaries, nil
}

func (f *fakeSource) GetEpisode(ctx context.Context, id int64) (*core.Episode, error) {
	ep, ok := f.episodes[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return ep, nil
}

func TestCollectSinceAndBroadcast(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		summaries: []core.EpisodeSummary{
			{EpisodeID: 2, PodcastTitle: "Systems Show", Summary: core.Summary{EpisodeID: 2, Synopsis: "new", CreatedAt: since.Add(time.Minute)}},
			{EpisodeID: 1, PodcastTitle: "Systems Show", Summary: core.Summary{EpisodeID: 1, Synopsis: "old", CreatedAt: since.Add(-time.Hour)}},
		},
		episodes: map[int64]*core.Episode{
			1: {ID: 1, Title: "Old"},
			2: {ID: 2, Title: "New", SourceURL: "https://cdn.example.com/2.mp3"},
		},
	}

	docs, err := CollectSince(context.Background(), src, since)
	if err != nil {
		t.Fatalf("CollectSince failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Episode.Title != "New" || docs[0].Summary.Synopsis != "new" {
		t.Fatalf("Unexpected documents %+v", docs)
	}

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/discord" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewMessagingClient(server.URL+"/slack", server.URL+"/discord")
	err = c.Broadcast(context.Background(), docs, "New podcast summaries")
	if err == nil || !strings.Contains(err.Error(), "discord") {
		t.Errorf("Expected discord failure, got %v", err)
	}
	if hits != 2 {
		t.Errorf("Expected both platforms attempted, got %d requests", hits)
	}

	if err := c.Broadcast(context.Background(), nil, "x"); err != nil || hits != 2 {
		t.Errorf("Expected no requests for empty documents, got %v (%d)", err, hits)
	}
}
