// Package cost estimates what the pending backlog will cost to transcribe
// and summarize.
package cost

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"podpipe/internal/core"
)

// Pricing holds list prices in USD for one model
type Pricing struct {
	Model        string
	InputPer1M   float64 // per 1M input tokens
	OutputPer1M  float64 // per 1M output tokens
	AudioPerHour float64 // per hour of transcribed audio
}

// PricingTable covers the default speech-to-text and reasoner models
var PricingTable = map[string]Pricing{
	"whisper-large-v3-turbo":     {Model: "whisper-large-v3-turbo", AudioPerHour: 0.04},
	"whisper-large-v3":           {Model: "whisper-large-v3", AudioPerHour: 0.111},
	"distil-whisper-large-v3-en": {Model: "distil-whisper-large-v3-en", AudioPerHour: 0.02},
	"llama-3.3-70b-versatile":    {Model: "llama-3.3-70b-versatile", InputPer1M: 0.59, OutputPer1M: 0.79},
	"llama-3.1-8b-instant":       {Model: "llama-3.1-8b-instant", InputPer1M: 0.05, OutputPer1M: 0.08},
	"gemini-flash-lite-latest":   {Model: "gemini-flash-lite-latest", InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-2.5-flash":           {Model: "gemini-2.5-flash", InputPer1M: 0.30, OutputPer1M: 2.50},
}

const (
	// promptOverhead covers the summary instructions around the transcript
	promptOverhead = 400
	// summaryOutputTokens is a typical structured summary
	summaryOutputTokens = 800
	// charsPerAudioMinute approximates speech at 150 words per minute
	charsPerAudioMinute = 900
	// bytesPerAudioMinute is used when an episode has no known duration
	bytesPerAudioMinute = 1 << 20
)

// EstimateTokenCount approximates tokens at 3.5 characters each
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 3.5))
}

// TranscribedEpisode pairs an episode awaiting summarization with its text
type TranscribedEpisode struct {
	Episode  core.Episode
	FullText string
}

// EpisodeEstimate is the projected cost of finishing one episode
type EpisodeEstimate struct {
	EpisodeID    int64
	Title        string
	Status       core.Status
	AudioHours   float64
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// BacklogEstimate totals the projected cost of the pending backlog
type BacklogEstimate struct {
	TranscriptionModel string
	ReasonerModel      string
	Episodes           []EpisodeEstimate
	AudioHours         float64
	InputTokens        int
	OutputTokens       int
	TranscriptionCost  float64
	SummarizationCost  float64
	TotalCost          float64
	// UnpricedModels lists models missing from PricingTable; their cost counts as zero
	UnpricedModels []string
}

// Options tunes the estimate to the configured models
type Options struct {
	TranscriptionModel string
	ReasonerModel      string
	// MaxInputChars mirrors the summarizer's transcript truncation
	MaxInputChars int
}

// EstimateBacklog projects the cost of transcribing every downloaded episode
// and summarizing both those and the already transcribed ones
func EstimateBacklog(downloaded []core.Episode, transcribed []TranscribedEpisode, opts Options) *BacklogEstimate {
	est := &BacklogEstimate{
		TranscriptionModel: opts.TranscriptionModel,
		ReasonerModel:      opts.ReasonerModel,
	}
	stt, ok := PricingTable[opts.TranscriptionModel]
	if !ok && len(downloaded) > 0 {
		est.UnpricedModels = append(est.UnpricedModels, opts.TranscriptionModel)
	}
	llm, ok := PricingTable[opts.ReasonerModel]
	if !ok && len(downloaded)+len(transcribed) > 0 {
		est.UnpricedModels = append(est.UnpricedModels, opts.ReasonerModel)
	}

	for _, ep := range downloaded {
		minutes := audioMinutes(ep)
		chars := capChars(int(minutes*charsPerAudioMinute), opts.MaxInputChars)
		e := EpisodeEstimate{
			EpisodeID:    ep.ID,
			Title:        ep.Title,
			Status:       ep.Status,
			AudioHours:   minutes / 60,
			InputTokens:  int(math.Ceil(float64(chars)/3.5)) + promptOverhead,
			OutputTokens: summaryOutputTokens,
		}
		sttCost := e.AudioHours * stt.AudioPerHour
		llmCost := tokenCost(e.InputTokens, e.OutputTokens, llm)
		e.Cost = sttCost + llmCost

		est.AudioHours += e.AudioHours
		est.TranscriptionCost += sttCost
		est.SummarizationCost += llmCost
		est.add(e)
	}

	for _, te := range transcribed {
		text := te.FullText
		if opts.MaxInputChars > 0 && utf8.RuneCountInString(text) > opts.MaxInputChars {
			text = string([]rune(text)[:opts.MaxInputChars])
		}
		e := EpisodeEstimate{
			EpisodeID:    te.Episode.ID,
			Title:        te.Episode.Title,
			Status:       te.Episode.Status,
			InputTokens:  EstimateTokenCount(text) + promptOverhead,
			OutputTokens: summaryOutputTokens,
		}
		e.Cost = tokenCost(e.InputTokens, e.OutputTokens, llm)
		est.SummarizationCost += e.Cost
		est.add(e)
	}

	est.TotalCost = est.TranscriptionCost + est.SummarizationCost
	sort.SliceStable(est.Episodes, func(i, j int) bool { return est.Episodes[i].Cost > est.Episodes[j].Cost })
	return est
}

func (e *BacklogEstimate) add(ep EpisodeEstimate) {
	e.Episodes = append(e.Episodes, ep)
	e.InputTokens += ep.InputTokens
	e.OutputTokens += ep.OutputTokens
}

func audioMinutes(ep core.Episode) float64 {
	if ep.DurationSeconds > 0 {
		return ep.DurationSeconds / 60
	}
	return float64(ep.FileSizeBytes) / bytesPerAudioMinute
}

func capChars(n, max int) int {
	if max > 0 && n > max {
		return max
	}
	return n
}

func tokenCost(in, out int, p Pricing) float64 {
	return float64(in)*p.InputPer1M/1e6 + float64(out)*p.OutputPer1M/1e6
}

// FormatEstimate renders the estimate for the terminal
func (e *BacklogEstimate) FormatEstimate() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Cost estimate (%s + %s)\n", e.TranscriptionModel, e.ReasonerModel)
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	fmt.Fprintf(&sb, "Episodes pending:   %d\n", len(e.Episodes))
	fmt.Fprintf(&sb, "Audio to transcribe: %.2f h (~$%.4f)\n", e.AudioHours, e.TranscriptionCost)
	fmt.Fprintf(&sb, "Reasoner tokens:    %d in / %d out (~$%.4f)\n", e.InputTokens, e.OutputTokens, e.SummarizationCost)
	fmt.Fprintf(&sb, "Total:              $%.4f\n", e.TotalCost)
	if len(e.UnpricedModels) > 0 {
		fmt.Fprintf(&sb, "No pricing for %s, counted as free\n", strings.Join(e.UnpricedModels, ", "))
	}

	if len(e.Episodes) > 0 {
		sb.WriteString("\nMost expensive:\n")
		for i, ep := range e.Episodes {
			if i >= 5 {
				fmt.Fprintf(&sb, "   ... and %d more\n", len(e.Episodes)-5)
				break
			}
			fmt.Fprintf(&sb, "   %d. $%.4f  [%s] %s\n", ep.EpisodeID, ep.Cost, ep.Status, ep.Title)
		}
	}
	return sb.String()
}
