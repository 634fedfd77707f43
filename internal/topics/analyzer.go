// Package topics aggregates summary topics across episodes and groups
// related ones into clusters.
package topics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/llm"
	"podpipe/internal/logger"

	"google.golang.org/genai"
)

// Analysis sources
const (
	SourceLLM       = "llm"
	SourceFrequency = "frequency"
)

const maxRelatedThemes = 5

// Topic is one cluster of related summary topics.
type Topic struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Count         int      `json:"count"`
	EpisodeIDs    []int64  `json:"episode_ids"`
	Keywords      []string `json:"keywords,omitempty"`
	RelatedThemes []string `json:"related_themes,omitempty"`
}

// Analysis is the result of one topic analysis run.
type Analysis struct {
	Topics      []Topic   `json:"topics"`
	Source      string    `json:"source"`
	Summaries   int       `json:"summaries"`
	GeneratedAt time.Time `json:"generated_at"`
	Cached      bool      `json:"cached"`
}

// SummaryLister provides the summaries to analyze
type SummaryLister interface {
	ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error)
}

// LLMClient generates the clustering response
type LLMClient interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
}

// Options configures the analyzer
type Options struct {
	MaxSummaries int
	MaxClusters  int
	CacheTTL     time.Duration
	Temperature  float32
	MaxTokens    int32
}

// Analyzer clusters topics through the reasoner and falls back to plain
// frequency counts. Results are cached when a Cache is configured.
type Analyzer struct {
	store   SummaryLister
	llm     LLMClient
	cache   Cache
	options Options
	log     *slog.Logger
}

// NewAnalyzer creates an Analyzer. llmClient and cache may be nil.
func NewAnalyzer(store SummaryLister, llmClient LLMClient, cache Cache, options Options) *Analyzer {
	if options.MaxClusters <= 0 {
		options.MaxClusters = 8
	}
	if options.MaxSummaries <= 0 {
		options.MaxSummaries = 200
	}
	return &Analyzer{
		store:   store,
		llm:     llmClient,
		cache:   cache,
		options: options,
		log:     logger.Get().With("component", "topics"),
	}
}

// topicStats holds normalized topic counts across summaries
type topicStats struct {
	counts   map[string]int
	episodes map[string]map[int64]bool
	themes   map[string]bool
}

func collect(summaries []core.EpisodeSummary) topicStats {
	st := topicStats{
		counts:   make(map[string]int),
		episodes: make(map[string]map[int64]bool),
		themes:   make(map[string]bool),
	}
	for _, s := range summaries {
		for _, t := range s.Summary.Topics {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				continue
			}
			st.counts[key]++
			if st.episodes[key] == nil {
				st.episodes[key] = make(map[int64]bool)
			}
			st.episodes[key][s.EpisodeID] = true
		}
		for _, th := range s.Summary.Themes {
			if key := strings.ToLower(strings.TrimSpace(th)); key != "" {
				st.themes[key] = true
			}
		}
	}
	return st
}

// ranked returns topics by count descending, ties alphabetical
func (st topicStats) ranked() []string {
	keys := make([]string, 0, len(st.counts))
	for k := range st.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if st.counts[keys[i]] != st.counts[keys[j]] {
			return st.counts[keys[i]] > st.counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// CacheKey identifies an analysis by the summaries it covers
func CacheKey(summaries []core.EpisodeSummary, maxClusters int) string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, strconv.FormatInt(s.EpisodeID, 10)+"@"+strconv.FormatInt(s.Summary.CreatedAt.Unix(), 10))
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",") + "|" + strconv.Itoa(maxClusters)))
	return hex.EncodeToString(sum[:16])
}

// Analyze returns the topic clusters for the most recent summaries.
// refresh bypasses the cache read.
func (a *Analyzer) Analyze(ctx context.Context, refresh bool) (*Analysis, error) {
	summaries, err := a.store.ListSummaries(ctx, a.options.MaxSummaries)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return &Analysis{Topics: []Topic{}, Source: SourceFrequency, GeneratedAt: time.Now().UTC()}, nil
	}

	key := CacheKey(summaries, a.options.MaxClusters)
	if a.cache != nil && !refresh {
		cached, err := a.cache.Get(ctx, key)
		switch {
		case err == nil:
			cached.Cached = true
			return cached, nil
		case !errors.Is(err, ErrCacheMiss):
			a.log.Warn("Topic cache read failed", "error", err)
		}
	}

	st := collect(summaries)
	analysis := &Analysis{Summaries: len(summaries), GeneratedAt: time.Now().UTC()}

	if topics, err := a.cluster(ctx, st); err == nil {
		analysis.Topics = topics
		analysis.Source = SourceLLM
	} else {
		if a.llm != nil {
			a.log.Warn("Topic clustering failed, using frequency counts", "error", err)
		}
		analysis.Topics = frequencyTopics(st, a.options.MaxClusters)
		analysis.Source = SourceFrequency
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, analysis, a.options.CacheTTL); err != nil {
			a.log.Warn("Topic cache write failed", "error", err)
		}
	}
	return analysis, nil
}

func frequencyTopics(st topicStats, limit int) []Topic {
	var topics []Topic
	for _, key := range st.ranked() {
		if len(topics) == limit {
			break
		}
		topics = append(topics, Topic{
			Name:       key,
			Count:      st.counts[key],
			EpisodeIDs: sortedIDs(st.episodes[key]),
		})
	}
	return topics
}

func sortedIDs(set map[int64]bool) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClusterSchema is the reasoner response schema for topic clustering
func ClusterSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"clusters": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name": {
							Type:        genai.TypeString,
							Description: "Clear, concise topic name",
						},
						"topics": {
							Type:        genai.TypeArray,
							Description: "Input topics that belong to this cluster",
							Items:       &genai.Schema{Type: genai.TypeString},
						},
						"description": {
							Type:        genai.TypeString,
							Description: "Brief description of what this topic covers",
						},
					},
					Required: []string{"name", "topics"},
				},
			},
		},
		Required: []string{"clusters"},
	}
}

type clusterResponse struct {
	Clusters []struct {
		Name        string   `json:"name"`
		Topics      []string `json:"topics"`
		Description string   `json:"description"`
	} `json:"clusters"`
}

func buildClusterPrompt(st topicStats, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these podcast episode topics and identify the %d most important and distinct topics.\n", limit)
	b.WriteString("Group similar topics together and provide clear, concise topic names.\n\nTopics from episodes:\n")
	for i, key := range st.ranked() {
		if i == 30 {
			break
		}
		fmt.Fprintf(&b, "- %s (appears %d times)\n", key, st.counts[key])
	}
	b.WriteString("\nReturn JSON with a \"clusters\" array; each cluster has a \"name\", the input \"topics\" it groups, and a short \"description\".")
	return b.String()
}

func (a *Analyzer) cluster(ctx context.Context, st topicStats) ([]Topic, error) {
	if a.llm == nil {
		return nil, errors.New("no reasoner configured")
	}

	response, err := a.llm.GenerateText(ctx, buildClusterPrompt(st, a.options.MaxClusters), llm.TextGenerationOptions{
		Temperature:    a.options.Temperature,
		MaxTokens:      a.options.MaxTokens,
		ResponseSchema: ClusterSchema(),
	})
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(response)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var parsed clusterResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse cluster JSON: %w", err)
	}

	var topics []Topic
	for _, c := range parsed.Clusters {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		topics = append(topics, mapCluster(st, name, c.Description, c.Topics))
	}
	if len(topics) == 0 {
		return nil, errors.New("reasoner returned no clusters")
	}

	sort.SliceStable(topics, func(i, j int) bool { return topics[i].Count > topics[j].Count })
	if len(topics) > a.options.MaxClusters {
		topics = topics[:a.options.MaxClusters]
	}
	return topics, nil
}

// mapCluster counts every input topic that matches the cluster name or one
// of its keywords, by substring in either direction.
func mapCluster(st topicStats, name, description string, keywords []string) Topic {
	terms := []string{strings.ToLower(name)}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			terms = append(terms, k)
		}
	}

	matches := func(a, b string) bool { return strings.Contains(a, b) || strings.Contains(b, a) }

	topic := Topic{Name: name, Description: strings.TrimSpace(description), Keywords: terms[1:]}
	episodes := make(map[int64]bool)
	for original, count := range st.counts {
		for _, term := range terms {
			if matches(original, term) {
				topic.Count += count
				for id := range st.episodes[original] {
					episodes[id] = true
				}
				break
			}
		}
	}
	topic.EpisodeIDs = sortedIDs(episodes)

	for theme := range st.themes {
		for _, term := range terms {
			if matches(theme, term) {
				topic.RelatedThemes = append(topic.RelatedThemes, theme)
				break
			}
		}
	}
	sort.Strings(topic.RelatedThemes)
	if len(topic.RelatedThemes) > maxRelatedThemes {
		topic.RelatedThemes = topic.RelatedThemes[:maxRelatedThemes]
	}
	return topic
}
