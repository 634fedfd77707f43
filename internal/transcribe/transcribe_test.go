package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"podpipe/internal/audio"
	"podpipe/internal/core"
	"podpipe/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	mu    sync.Mutex
	calls []string
	err   error
	byIdx map[string]*ChunkTranscript
}

func (f *fakeSTT) Model() string { return "fake-whisper" }

func (f *fakeSTT) Transcribe(ctx context.Context, path string) (*ChunkTranscript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if f.err != nil {
		return nil, f.err
	}
	if ct, ok := f.byIdx[filepath.Base(path)]; ok {
		return ct, nil
	}
	return &ChunkTranscript{
		Segments: []core.Segment{{Start: 0, End: 2, Text: "Hello there."}, {Start: 2, End: 5, Text: "General discussion."}},
		Text:     "Hello there. General discussion.",
		Language: "en",
	}, nil
}

func (f *fakeSTT) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSplitter struct {
	spans []audio.Span
}

func (f *fakeSplitter) Split(ctx context.Context, path string, spans []audio.Span, dir string) ([]string, error) {
	f.spans = spans
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var out []string
	for _, s := range spans {
		p := audio.ChunkPath(dir, s.Index, filepath.Ext(path))
		if err := os.WriteFile(p, []byte("chunk"), 0644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// brokenSplitter leaves a partial chunk behind and then fails. With wait set
// it blocks until ctx is done, like a killed ffmpeg process.
type brokenSplitter struct {
	err  error
	wait bool
}

func (f brokenSplitter) Split(ctx context.Context, path string, spans []audio.Span, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(audio.ChunkPath(dir, 0, filepath.Ext(path)), []byte("partial"), 0644); err != nil {
		return nil, err
	}
	if f.wait {
		<-ctx.Done()
	}
	return nil, f.err
}

func chunkedConfig(root string) Config {
	return Config{
		MaxUploadBytes: 60,
		ChunkDuration:  30 * time.Second,
		ChunkDirectory: root,
	}
}

type fixture struct {
	store *store.Store
	dir   string
	id    int64
}

func newFixture(t *testing.T, audioBytes int, duration float64) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewStore(filepath.Join(dir, "podpipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	audioPath := filepath.Join(dir, "audio", "show", "episode-one-abc.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(audioPath), 0755))
	require.NoError(t, os.WriteFile(audioPath, make([]byte, audioBytes), 0644))

	ctx := context.Background()
	podcastID, err := s.UpsertPodcast(ctx, "https://feeds.example.com/show", "Show", "")
	require.NoError(t, err)
	id, err := s.CreateEpisode(ctx, core.NewEpisode{
		PodcastID:       podcastID,
		Title:           "Episode One",
		SourceURL:       "https://cdn.example.com/one.mp3",
		AudioPath:       audioPath,
		DurationSeconds: duration,
		FileSizeBytes:   int64(audioBytes),
	})
	require.NoError(t, err)
	return &fixture{store: s, dir: dir, id: id}
}

func (f *fixture) status(t *testing.T) *core.Episode {
	t.Helper()
	ep, err := f.store.GetEpisode(context.Background(), f.id)
	require.NoError(t, err)
	return ep
}

func TestStage_AtMostOnceSpend(t *testing.T) {
	f := newFixture(t, 100, 5)
	stt := &fakeSTT{}
	stage := NewStage(f.store, stt, nil, nil, Config{ChunkDirectory: filepath.Join(f.dir, "chunks")})
	ctx := context.Background()

	res, err := stage.Run(ctx, f.id)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 2, res.Segments)
	assert.Equal(t, core.StatusTranscribed, f.status(t).Status)

	res, err = stage.Run(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, stt.count(), "second run must not call speech-to-text")

	tr, err := f.store.GetTranscript(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, "Hello there. General discussion.", tr.FullText)
	assert.Equal(t, "fake-whisper", tr.Model)
}

func TestStage_ChunkContinuity(t *testing.T) {
	f := newFixture(t, 100, 90)
	stt := &fakeSTT{byIdx: map[string]*ChunkTranscript{
		"chunk_0000.wav": {Segments: []core.Segment{{Start: 0, End: 12, Text: "a"}, {Start: 12, End: 30, Text: "b"}}},
		"chunk_0001.wav": {Segments: []core.Segment{{Start: 0, End: 14, Text: "c"}, {Start: 14, End: 29.5, Text: "d"}}},
		"chunk_0002.wav": {Segments: []core.Segment{{Start: 0.2, End: 30, Text: "e"}}},
	}}
	splitter := &fakeSplitter{}
	chunkRoot := filepath.Join(f.dir, "chunks")
	stage := NewStage(f.store, stt, nil, splitter, Config{
		MaxUploadBytes: 60,
		ChunkDuration:  30 * time.Second,
		ChunkDirectory: chunkRoot,
	})

	res, err := stage.Run(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, stt.count())

	tr, err := f.store.GetTranscript(context.Background(), f.id)
	require.NoError(t, err)
	require.Len(t, tr.Segments, 5)
	assert.Equal(t, 3, tr.ChunkCount)
	assert.InDelta(t, 30.0, tr.Segments[2].Start, 1e-9)
	assert.InDelta(t, 59.5, tr.Segments[3].End, 1e-9)
	assert.InDelta(t, 60.2, tr.Segments[4].Start, 1e-9)
	for i := 1; i < len(tr.Segments); i++ {
		assert.GreaterOrEqual(t, tr.Segments[i].Start, tr.Segments[i-1].End-segmentTolerance)
	}
	assert.Equal(t, "a b c d e", tr.FullText)

	_, statErr := os.Stat(filepath.Join(chunkRoot, "episode-one-abc"))
	assert.True(t, os.IsNotExist(statErr), "chunk directory should be removed")
}

func TestStage_ChunksRemovedOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		splitter  Splitter
		stt       *fakeSTT
		retryable bool
	}{
		{"split fails", brokenSplitter{err: errors.New("ffmpeg: exit status 1: invalid data")}, &fakeSTT{}, false},
		{"transcription fails", &fakeSplitter{}, &fakeSTT{err: core.NewRetryable("rate limited", errors.New("status 429"))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 100, 90)
			chunkRoot := filepath.Join(f.dir, "chunks")
			stage := NewStage(f.store, tt.stt, nil, tt.splitter, chunkedConfig(chunkRoot))

			_, err := stage.Run(context.Background(), f.id)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, core.IsRetryable(err))

			_, statErr := os.Stat(filepath.Join(chunkRoot, "episode-one-abc"))
			assert.True(t, os.IsNotExist(statErr), "chunk directory should be removed")
		})
	}
}

func TestStage_SplitTimeoutIsRetryable(t *testing.T) {
	t.Run("deadline in error chain", func(t *testing.T) {
		f := newFixture(t, 100, 90)
		splitter := brokenSplitter{err: fmt.Errorf("ffmpeg: %w", context.DeadlineExceeded)}
		stage := NewStage(f.store, &fakeSTT{}, nil, splitter, chunkedConfig(filepath.Join(f.dir, "chunks")))

		_, err := stage.Run(context.Background(), f.id)
		require.Error(t, err)
		assert.True(t, core.IsRetryable(err))
		assert.Equal(t, core.StatusDownloaded, f.status(t).Status)
	})

	t.Run("process killed at deadline", func(t *testing.T) {
		f := newFixture(t, 100, 90)
		splitter := brokenSplitter{err: errors.New("ffmpeg: signal: killed"), wait: true}
		stage := NewStage(f.store, &fakeSTT{}, nil, splitter, chunkedConfig(filepath.Join(f.dir, "chunks")))

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := stage.Run(ctx, f.id)
		require.Error(t, err)
		assert.True(t, core.IsRetryable(err))
		assert.Equal(t, core.StatusDownloaded, f.status(t).Status)
	})
}

func TestStage_RetryableLeavesStatus(t *testing.T) {
	f := newFixture(t, 100, 5)
	stt := &fakeSTT{err: core.NewRetryable("rate limited", errors.New("status 429"))}
	stage := NewStage(f.store, stt, nil, nil, Config{})

	_, err := stage.Run(context.Background(), f.id)
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, core.StatusDownloaded, f.status(t).Status)
}

func TestStage_TimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, 100, 5)
	stt := &fakeSTT{err: context.DeadlineExceeded}
	stage := NewStage(f.store, stt, nil, nil, Config{})

	_, err := stage.Run(context.Background(), f.id)
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, core.StatusDownloaded, f.status(t).Status)
}

func TestStage_PermanentMarksFailed(t *testing.T) {
	f := newFixture(t, 100, 5)
	stt := &fakeSTT{err: core.NewPermanent("invalid audio", errors.New("status 400"))}
	stage := NewStage(f.store, stt, nil, nil, Config{})

	_, err := stage.Run(context.Background(), f.id)
	require.Error(t, err)
	assert.False(t, core.IsRetryable(err))

	ep := f.status(t)
	assert.Equal(t, core.StatusFailed, ep.Status)
	assert.Contains(t, ep.ErrorReason, "invalid audio")

	_, err = stage.Run(context.Background(), f.id)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, 1, stt.count())
}

func TestStage_MissingAudioIsPermanent(t *testing.T) {
	f := newFixture(t, 0, 5)
	stt := &fakeSTT{}
	stage := NewStage(f.store, stt, nil, nil, Config{})

	_, err := stage.Run(context.Background(), f.id)
	var te *core.TranscriptionError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Retryable)
	assert.Equal(t, 0, stt.count())
	assert.Equal(t, core.StatusFailed, f.status(t).Status)
}

func TestStage_RecoversStoredTranscript(t *testing.T) {
	f := newFixture(t, 100, 5)
	ctx := context.Background()
	require.NoError(t, f.store.WriteTranscript(ctx, f.id, core.Transcript{FullText: "earlier", ChunkCount: 1}))

	stt := &fakeSTT{}
	res, err := NewStage(f.store, stt, nil, nil, Config{}).Run(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Equal(t, 0, stt.count())
	assert.Equal(t, core.StatusTranscribed, f.status(t).Status)
}

func TestMergeChunks_DropsOverlap(t *testing.T) {
	spans := []audio.Span{{Index: 0, Start: 0, End: 30}, {Index: 1, Start: 25, End: 50}}
	parts := []*ChunkTranscript{
		{Language: "en", Segments: []core.Segment{{Start: 0, End: 15, Text: "one"}, {Start: 15, End: 29, Text: "two"}}},
		{Segments: []core.Segment{{Start: 0, End: 4, Text: "two again"}, {Start: 4, End: 20, Text: "three"}}},
	}
	tr := MergeChunks(spans, parts)

	require.Len(t, tr.Segments, 3)
	assert.Equal(t, "three", tr.Segments[2].Text)
	assert.InDelta(t, 29.0, tr.Segments[2].Start, 1e-9)
	assert.Equal(t, 2, tr.Segments[2].Index)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, "one two three", tr.FullText)
}

func TestGroqClient_Transcribe(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "RIFF", string(data))

		_, _ = fmt.Fprint(w, `{"text":" Hi. Bye. ","language":"english","duration":4.2,
			"segments":[{"id":0,"start":0,"end":1.5,"text":" Hi."},{"id":1,"start":1.5,"end":4.2,"text":" Bye."}]}`)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))

	client := NewGroqClient(ClientConfig{APIKey: "gsk_test", BaseURL: server.URL, Language: "en"})
	ct, err := client.Transcribe(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "whisper-large-v3-turbo", form["model"])
	assert.Equal(t, "verbose_json", form["response_format"])
	assert.Equal(t, "segment", form["timestamp_granularities[]"])
	assert.Equal(t, "en", form["language"])

	assert.Equal(t, "Hi. Bye.", ct.Text)
	require.Len(t, ct.Segments, 2)
	assert.Equal(t, "Bye.", ct.Segments[1].Text)
	assert.InDelta(t, 4.2, ct.Duration, 1e-9)
}

func TestGroqClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
		{http.StatusRequestEntityTooLarge, false},
		{http.StatusUnsupportedMediaType, false},
	}

	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error"}}`)
			}))
			defer server.Close()

			_, err := NewGroqClient(ClientConfig{BaseURL: server.URL}).Transcribe(context.Background(), path)
			var te *core.TranscriptionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.retryable, te.Retryable)
			assert.Contains(t, te.Error(), "nope")
		})
	}
}

func TestGroqClient_NetworkErrorIsRetryable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0644))

	_, err := NewGroqClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}).Transcribe(context.Background(), path)
	assert.True(t, core.IsRetryable(err))
}
