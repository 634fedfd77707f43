package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/store"
	"podpipe/internal/topics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAnalyzer struct {
	analysis *topics.Analysis
	err      error
	refresh  bool
}

func (s *stubAnalyzer) Analyze(ctx context.Context, refresh bool) (*topics.Analysis, error) {
	s.refresh = refresh
	return s.analysis, s.err
}

type fixture struct {
	store      *store.Store
	processed  int64
	downloaded int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "podpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	podcastID, err := s.UpsertPodcast(ctx, "https://example.com/feed.xml", "Systems Show", "tech")
	require.NoError(t, err)

	f := &fixture{store: s}
	f.processed, err = s.CreateEpisode(ctx, core.NewEpisode{PodcastID: podcastID, Title: "Ep 1", SourceURL: "https://cdn.example.com/1.mp3"})
	require.NoError(t, err)
	f.downloaded, err = s.CreateEpisode(ctx, core.NewEpisode{PodcastID: podcastID, Title: "Ep 2", SourceURL: "https://cdn.example.com/2.mp3"})
	require.NoError(t, err)

	require.NoError(t, s.WriteTranscript(ctx, f.processed, core.Transcript{
		FullText: "hello world",
		Segments: []core.Segment{{Start: 0, End: 1.5, Text: "hello world"}},
		Model:    "whisper",
	}))
	require.NoError(t, s.UpdateStatus(ctx, f.processed, core.StatusTranscribed, ""))
	require.NoError(t, s.WriteSummary(ctx, f.processed, core.Summary{
		Synopsis: "A greeting.",
		Topics:   []string{"greetings"},
		Source:   core.SummarySourceFallback,
	}))
	require.NoError(t, s.UpdateStatus(ctx, f.processed, core.StatusProcessed, ""))
	return f
}

func get(t *testing.T, srv *Server, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	srv := New(f.store, nil, config.Server{})

	var body HealthResponse
	rec := get(t, srv, "/health", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
}

func TestListEpisodes(t *testing.T) {
	f := newFixture(t)
	srv := New(f.store, nil, config.Server{})

	var all []core.Episode
	rec := get(t, srv, "/api/episodes", &all)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, all, 2)

	var processed []core.Episode
	get(t, srv, "/api/episodes?status=processed", &processed)
	require.Len(t, processed, 1)
	assert.Equal(t, f.processed, processed[0].ID)

	var failed []core.Episode
	get(t, srv, "/api/episodes?status=failed", &failed)
	assert.Empty(t, failed)

	rec = get(t, srv, "/api/episodes?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEpisode(t *testing.T) {
	f := newFixture(t)
	srv := New(f.store, nil, config.Server{})

	var detail EpisodeDetail
	rec := get(t, srv, "/api/episodes/"+itoa(f.processed), &detail)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.StatusProcessed, detail.Episode.Status)
	require.NotNil(t, detail.Transcript)
	assert.Len(t, detail.Transcript.Segments, 1)
	require.NotNil(t, detail.Summary)
	assert.Equal(t, "A greeting.", detail.Summary.Synopsis)

	var bare EpisodeDetail
	get(t, srv, "/api/episodes/"+itoa(f.downloaded), &bare)
	assert.Nil(t, bare.Transcript)
	assert.Nil(t, bare.Summary)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/episodes/9999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/episodes/abc", nil).Code)
}

func TestListSummariesAndStats(t *testing.T) {
	f := newFixture(t)
	srv := New(f.store, nil, config.Server{})

	var summaries []core.EpisodeSummary
	rec := get(t, srv, "/api/summaries?limit=10", &summaries)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Ep 1", summaries[0].EpisodeTitle)
	assert.Equal(t, "Systems Show", summaries[0].PodcastTitle)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/summaries?limit=-1", nil).Code)

	var stats StatsResponse
	rec = get(t, srv, "/api/stats", &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, stats.Episodes)
	assert.Equal(t, 1, stats.ByStatus[core.StatusProcessed])
	assert.Equal(t, 1, stats.ByStatus[core.StatusDownloaded])
}

func TestTopics(t *testing.T) {
	f := newFixture(t)

	rec := get(t, New(f.store, nil, config.Server{}), "/api/topics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	analyzer := &stubAnalyzer{analysis: &topics.Analysis{
		Topics:      []topics.Topic{{Name: "greetings", Count: 1, EpisodeIDs: []int64{f.processed}}},
		Source:      topics.SourceFrequency,
		Summaries:   1,
		GeneratedAt: time.Now().UTC(),
	}}
	srv := New(f.store, analyzer, config.Server{})

	var analysis topics.Analysis
	rec = get(t, srv, "/api/topics?refresh=true", &analysis)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, analyzer.refresh)
	require.Len(t, analysis.Topics, 1)
	assert.Equal(t, "greetings", analysis.Topics[0].Name)

	analyzer.err = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, get(t, srv, "/api/topics", nil).Code)
}

func TestMetricsAndCORS(t *testing.T) {
	f := newFixture(t)
	srv := New(f.store, nil, config.Server{CORS: config.CORS{Enabled: true, AllowedOrigins: []string{"https://dash.example.com"}}})

	get(t, srv, "/api/stats", nil)
	rec := get(t, srv, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `podpipe_http_requests_total{code="200",route="/api/stats"}`)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	cors := httptest.NewRecorder()
	srv.Router().ServeHTTP(cors, req)
	assert.Equal(t, "https://dash.example.com", cors.Header().Get("Access-Control-Allow-Origin"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
