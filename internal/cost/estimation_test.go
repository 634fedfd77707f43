package cost

import (
	"math"
	"strings"
	"testing"

	"podpipe/internal/core"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty string", "", 0},
		{"simple text", "Hello world", 4},
		{"text with newlines", "Line 1\nLine 2\nLine 3", 6},
		{"text with extra whitespace", "  Text with   extra    spaces  ", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokenCount(tt.input); got != tt.expected {
				t.Errorf("EstimateTokenCount(%q) = %d, expected %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEstimateBacklog(t *testing.T) {
	downloaded := []core.Episode{
		{ID: 1, Title: "Hour long", Status: core.StatusDownloaded, DurationSeconds: 3600},
		// unknown duration: 30MB at 1MB per minute
		{ID: 2, Title: "Unknown length", Status: core.StatusDownloaded, FileSizeBytes: 30 << 20},
	}
	transcribed := []TranscribedEpisode{
		{Episode: core.Episode{ID: 3, Title: "Ready", Status: core.StatusTranscribed}, FullText: strings.Repeat("a", 700)},
	}

	est := EstimateBacklog(downloaded, transcribed, Options{
		TranscriptionModel: "whisper-large-v3-turbo",
		ReasonerModel:      "llama-3.3-70b-versatile",
	})

	if !approx(est.AudioHours, 1.5) {
		t.Errorf("Expected 1.5 audio hours, got %v", est.AudioHours)
	}
	if !approx(est.TranscriptionCost, 1.5*0.04) {
		t.Errorf("Unexpected transcription cost %v", est.TranscriptionCost)
	}
	if len(est.Episodes) != 3 || est.Episodes[0].EpisodeID != 1 {
		t.Fatalf("Expected the hour long episode first, got %+v", est.Episodes)
	}
	// 700 chars is 200 tokens plus prompt overhead
	ready := est.Episodes[2]
	if ready.EpisodeID != 3 || ready.InputTokens != 600 || ready.OutputTokens != 800 {
		t.Errorf("Unexpected transcribed estimate %+v", ready)
	}
	if !approx(est.TotalCost, est.TranscriptionCost+est.SummarizationCost) {
		t.Errorf("Total should add both stages")
	}
	if len(est.UnpricedModels) != 0 {
		t.Errorf("Unexpected unpriced models %v", est.UnpricedModels)
	}
}

func TestEstimateBacklog_CapsInputAndFlagsUnknownModels(t *testing.T) {
	transcribed := []TranscribedEpisode{
		{Episode: core.Episode{ID: 1}, FullText: strings.Repeat("a", 10000)},
	}
	est := EstimateBacklog(nil, transcribed, Options{ReasonerModel: "local-model", MaxInputChars: 350})

	if est.Episodes[0].InputTokens != 100+promptOverhead {
		t.Errorf("Expected truncated input, got %d tokens", est.Episodes[0].InputTokens)
	}
	if est.TotalCost != 0 || len(est.UnpricedModels) != 1 || est.UnpricedModels[0] != "local-model" {
		t.Errorf("Expected unpriced model, got %+v", est)
	}
	if !strings.Contains(est.FormatEstimate(), "No pricing for local-model") {
		t.Error("Expected unpriced warning in output")
	}
}

func TestFormatEstimate_Empty(t *testing.T) {
	out := EstimateBacklog(nil, nil, Options{TranscriptionModel: "a", ReasonerModel: "b"}).FormatEstimate()
	if !strings.Contains(out, "Episodes pending:   0") || strings.Contains(out, "Most expensive") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}
