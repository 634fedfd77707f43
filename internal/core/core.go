package core

import "time"

// Podcast represents a subscribed feed.
type Podcast struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	FeedURL   string    `json:"feed_url"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedDescriptor is a configured feed to ingest.
type FeedDescriptor struct {
	Name     string `json:"name" mapstructure:"name"`
	URL      string `json:"url" mapstructure:"url"`
	Category string `json:"category" mapstructure:"category"`
}

// EpisodeDescriptor is one entry produced by the feed parser.
type EpisodeDescriptor struct {
	Title        string
	Description  string
	PublishDate  *time.Time
	EnclosureURL string
}

// ParsedFeed is the result of parsing a feed URL.
type ParsedFeed struct {
	Title    string
	Episodes []EpisodeDescriptor
}

// Episode represents one audio item tracked through the pipeline.
type Episode struct {
	ID              int64      `json:"id"`
	PodcastID       int64      `json:"podcast_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	PublishDate     *time.Time `json:"publish_date,omitempty"`
	SourceURL       string     `json:"source_url"`
	AudioPath       string     `json:"audio_path,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	FileSizeBytes   int64      `json:"file_size_bytes"`
	Status          Status     `json:"status"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	ClaimToken      string     `json:"-"`
	ClaimedAt       *time.Time `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// NewEpisode carries the fields needed to register a downloaded episode.
type NewEpisode struct {
	PodcastID       int64
	Title           string
	Description     string
	PublishDate     *time.Time
	SourceURL       string
	AudioPath       string
	DurationSeconds float64
	FileSizeBytes   int64
}

// Segment is a timestamped span of transcribed text. Offsets are seconds
// from the start of the episode.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the speech-to-text output for one episode.
type Transcript struct {
	EpisodeID  int64     `json:"episode_id"`
	Segments   []Segment `json:"segments"`
	FullText   string    `json:"full_text"`
	Language   string    `json:"language"`
	ChunkCount int       `json:"chunk_count"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summary sources.
const (
	SummarySourceLLM      = "llm"
	SummarySourceFallback = "fallback"
)

// Summary is the structured digest of one episode.
type Summary struct {
	EpisodeID     int64     `json:"episode_id"`
	Synopsis      string    `json:"synopsis"`
	Topics        []string  `json:"topics"`
	Themes        []string  `json:"themes"`
	Quotes        []string  `json:"quotes"`
	Organizations []string  `json:"organizations"`
	Source        string    `json:"source"`
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
}

// EpisodeSummary joins a summary with its episode and podcast titles.
type EpisodeSummary struct {
	EpisodeID    int64   `json:"episode_id"`
	EpisodeTitle string  `json:"episode_title"`
	PodcastTitle string  `json:"podcast_title"`
	Summary      Summary `json:"summary"`
}

// Stats aggregates the registry state.
type Stats struct {
	ByStatus     map[Status]int `json:"by_status"`
	ByFeed       map[string]int `json:"by_feed"`
	Podcasts     int            `json:"podcasts"`
	Episodes     int            `json:"episodes"`
	Transcripts  int            `json:"transcripts"`
	Summaries    int            `json:"summaries"`
	StorageBytes int64          `json:"storage_bytes"`
}

// NewStats returns Stats with every status present.
func NewStats() *Stats {
	s := &Stats{
		ByStatus: make(map[Status]int, len(AllStatuses)),
		ByFeed:   make(map[string]int),
	}
	for _, st := range AllStatuses {
		s.ByStatus[st] = 0
	}
	return s
}
