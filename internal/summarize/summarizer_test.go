package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/llm"
)

// MockLLMClient implements LLMClient for testing
type MockLLMClient struct {
	mu         sync.Mutex
	responses  []string
	callCount  int
	shouldFail bool
	lastOpts   llm.TextGenerationOptions
}

func (m *MockLLMClient) GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastOpts = options

	if m.shouldFail {
		return "", errors.New("mock LLM error")
	}
	if len(m.responses) == 0 {
		return "", errors.New("no response queued")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *MockLLMClient) GetModelName() string { return "mock-model" }

// fakeStore keeps one episode in memory and enforces forward transitions
type fakeStore struct {
	episode    core.Episode
	transcript *core.Transcript
	summary    *core.Summary
	statusErr  error
	writes     int
}

func (f *fakeStore) GetEpisode(ctx context.Context, id int64) (*core.Episode, error) {
	if id != f.episode.ID {
		return nil, core.ErrNotFound
	}
	ep := f.episode
	return &ep, nil
}

func (f *fakeStore) GetTranscript(ctx context.Context, id int64) (*core.Transcript, error) {
	if f.transcript == nil {
		return nil, core.ErrNotFound
	}
	return f.transcript, nil
}

func (f *fakeStore) GetSummary(ctx context.Context, id int64) (*core.Summary, error) {
	if f.summary == nil {
		return nil, core.ErrNotFound
	}
	s := *f.summary
	return &s, nil
}

func (f *fakeStore) WriteSummary(ctx context.Context, id int64, s core.Summary) error {
	if f.transcript == nil {
		return core.ErrNoTranscript
	}
	f.writes++
	s.CreatedAt = time.Now()
	f.summary = &s
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	if err := core.CheckTransition(f.episode.Status, status); err != nil {
		return err
	}
	f.episode.Status = status
	return nil
}

func newFakeStore(status core.Status) *fakeStore {
	return &fakeStore{
		episode: core.Episode{ID: 7, Title: "Building Startups", Status: status},
		transcript: &core.Transcript{
			EpisodeID: 7,
			Segments: []core.Segment{
				{Index: 0, Start: 0, End: 4, Text: "Welcome back to the show."},
				{Index: 1, Start: 4, End: 9, Text: "Today we talk about startup funding."},
			},
		},
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = time.Millisecond
	return opts
}

const validResponse = `{"synopsis":"Founders discuss funding.","key_topics":["funding","startups","hiring"],"themes":["growth","risk"],"quotes":["Cash is oxygen."],"organizations":["Acme Corp"]}`

func TestRun_WithReasoner(t *testing.T) {
	store := newFakeStore(core.StatusTranscribed)
	client := &MockLLMClient{responses: []string{validResponse}}

	result, err := NewSummarizer(store, client, testOptions()).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Fallback || result.Skipped {
		t.Errorf("Expected a reasoner summary, got %+v", result)
	}
	if store.episode.Status != core.StatusProcessed {
		t.Errorf("Expected processed, got %s", store.episode.Status)
	}
	if store.summary.Source != core.SummarySourceLLM || store.summary.Model != "mock-model" {
		t.Errorf("Unexpected source/model %s/%s", store.summary.Source, store.summary.Model)
	}
	if len(store.summary.Topics) != 3 || store.summary.Organizations[0] != "Acme Corp" {
		t.Errorf("Unexpected summary %+v", store.summary)
	}
	if client.lastOpts.ResponseSchema == nil {
		t.Error("Expected a response schema on the reasoner call")
	}
}

func TestRun_FallbackWhenReasonerFails(t *testing.T) {
	store := newFakeStore(core.StatusTranscribed)
	client := &MockLLMClient{shouldFail: true}
	opts := testOptions()
	opts.MaxRetries = 2

	result, err := NewSummarizer(store, client, opts).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Fallback {
		t.Error("Expected fallback summary")
	}
	if client.callCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", client.callCount)
	}
	if store.episode.Status != core.StatusProcessed {
		t.Errorf("Expected processed, got %s", store.episode.Status)
	}
	if store.summary.Synopsis == "" || store.summary.Source != core.SummarySourceFallback {
		t.Errorf("Expected non-empty fallback summary, got %+v", store.summary)
	}
}

func TestRun_FallbackOnInvalidOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"not json", "Here is your summary: great episode"},
		{"missing synopsis", `{"key_topics":["a"]}`},
		{"missing topics", `{"synopsis":"something"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(core.StatusTranscribed)
			opts := testOptions()
			opts.MaxRetries = 0
			result, err := NewSummarizer(store, &MockLLMClient{responses: []string{tt.response}}, opts).Run(context.Background(), 7)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !result.Fallback {
				t.Error("Expected fallback")
			}
		})
	}
}

func TestRun_RetrySuccess(t *testing.T) {
	store := newFakeStore(core.StatusTranscribed)
	client := &MockLLMClient{responses: []string{"garbage", validResponse}}

	result, err := NewSummarizer(store, client, testOptions()).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Fallback || client.callCount != 2 {
		t.Errorf("Expected success on second attempt, fallback=%v calls=%d", result.Fallback, client.callCount)
	}
}

func TestRun_NilReasonerUsesFallback(t *testing.T) {
	store := newFakeStore(core.StatusTranscribed)
	result, err := NewSummarizer(store, nil, testOptions()).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Fallback || result.Summary.Model != FallbackModel {
		t.Errorf("Expected fallback summary, got %+v", result.Summary)
	}
}

func TestRun_SkipsProcessedWithSummary(t *testing.T) {
	store := newFakeStore(core.StatusProcessed)
	store.summary = &core.Summary{EpisodeID: 7, Synopsis: "existing", Topics: []string{"x"}}
	client := &MockLLMClient{responses: []string{validResponse}}

	result, err := NewSummarizer(store, client, testOptions()).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Skipped || result.Summary.Synopsis != "existing" {
		t.Errorf("Expected existing summary, got %+v", result)
	}
	if client.callCount != 0 || store.writes != 0 {
		t.Error("Skipped run should not call the reasoner or write")
	}
}

func TestRun_RegeneratesMissingSummary(t *testing.T) {
	store := newFakeStore(core.StatusProcessed)
	client := &MockLLMClient{responses: []string{validResponse}}

	result, err := NewSummarizer(store, client, testOptions()).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Skipped || store.writes != 1 {
		t.Errorf("Expected regenerated summary, got %+v", result)
	}
	if store.episode.Status != core.StatusProcessed {
		t.Errorf("Status should stay processed, got %s", store.episode.Status)
	}
}

func TestRun_Guards(t *testing.T) {
	for _, status := range []core.Status{core.StatusDownloaded, core.StatusFailed} {
		store := newFakeStore(status)
		_, err := NewSummarizer(store, nil, testOptions()).Run(context.Background(), 7)
		if !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("Status %s: expected ErrInvalidTransition, got %v", status, err)
		}
	}

	store := newFakeStore(core.StatusTranscribed)
	store.transcript = nil
	if _, err := NewSummarizer(store, nil, testOptions()).Run(context.Background(), 7); !errors.Is(err, core.ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript, got %v", err)
	}

	if _, err := NewSummarizer(store, nil, testOptions()).Run(context.Background(), 99); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRun_StorageErrorPropagates(t *testing.T) {
	store := newFakeStore(core.StatusTranscribed)
	store.statusErr = errors.New("disk full")
	if _, err := NewSummarizer(store, nil, testOptions()).Run(context.Background(), 7); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Expected storage error, got %v", err)
	}
}

func TestAssembleText(t *testing.T) {
	tr := &core.Transcript{Segments: []core.Segment{{Text: " one "}, {Text: ""}, {Text: "two"}}}
	text, truncated := AssembleText(tr, 0)
	if text != "one\ntwo" || truncated {
		t.Errorf("Unexpected text %q", text)
	}

	text, truncated = AssembleText(&core.Transcript{FullText: "abcdefghij"}, 4)
	if !truncated || text != "abcd"+truncationMarker {
		t.Errorf("Expected truncated text, got %q", text)
	}

	// never split a multi-byte rune
	text, _ = AssembleText(&core.Transcript{FullText: "aé"}, 2)
	if text != "a"+truncationMarker {
		t.Errorf("Expected rune-safe cut, got %q", text)
	}
}

func TestParseSummaryResponse(t *testing.T) {
	fenced := "```json\n" + validResponse + "\n```"
	parsed, err := ParseSummaryResponse(fenced)
	if err != nil {
		t.Fatalf("Fenced JSON should parse: %v", err)
	}
	if parsed.Synopsis != "Founders discuss funding." {
		t.Errorf("Unexpected synopsis %q", parsed.Synopsis)
	}

	parsed, err = ParseSummaryResponse(`Sure! {"synopsis":"s","key_topics":["a","b","c","d","e","f"],"quotes":["1","2","3","4"],"themes":[" x ","X",""]}`)
	if err != nil {
		t.Fatalf("Embedded JSON should parse: %v", err)
	}
	if len(parsed.KeyTopics) != 5 || len(parsed.Quotes) != 3 {
		t.Errorf("Expected limits applied, got %+v", parsed)
	}
	if len(parsed.Themes) != 1 || parsed.Themes[0] != "x" {
		t.Errorf("Expected cleaned themes, got %v", parsed.Themes)
	}
}

func TestCreateSummarySchema(t *testing.T) {
	schema := CreateSummarySchema()
	for _, key := range []string{"synopsis", "key_topics", "themes", "quotes", "organizations"} {
		if _, ok := schema.Properties[key]; !ok {
			t.Errorf("Schema missing %s", key)
		}
	}
}
