package summarize

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"podpipe/internal/core"

	"google.golang.org/genai"
)

// truncationMarker is appended when the transcript exceeds the input limit
const truncationMarker = "... [truncated]"

// CreateSummarySchema returns the response schema for episode summaries
func CreateSummarySchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"synopsis": {
				Type:        genai.TypeString,
				Description: "Concise overview of the episode (2-3 sentences)",
			},
			"key_topics": {
				Type:        genai.TypeArray,
				Description: "Main subjects discussed (3-5 topics)",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			"themes": {
				Type:        genai.TypeArray,
				Description: "Broader themes or patterns (2-4 themes)",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			"quotes": {
				Type:        genai.TypeArray,
				Description: "Memorable, insightful quotes taken verbatim from the transcript (3 at most)",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			"organizations": {
				Type:        genai.TypeArray,
				Description: "Companies, startups, or brands mentioned",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"synopsis", "key_topics", "themes", "quotes", "organizations"},
	}
}

// BuildSummaryPrompt creates the extraction prompt for one episode
func BuildSummaryPrompt(title, transcript string) string {
	var prompt strings.Builder

	prompt.WriteString("You are an expert at analyzing podcast content. ")
	prompt.WriteString("Extract structured information from the transcript and return valid JSON only.\n\n")
	if title != "" {
		prompt.WriteString(fmt.Sprintf("Episode Title: %s\n\n", title))
	}
	prompt.WriteString(`Guidelines:
- synopsis: concise overview of the episode (2-3 sentences)
- key_topics: main subjects discussed (3-5 topics)
- themes: broader themes or patterns (2-4 themes)
- quotes: memorable, insightful quotes (3 at most)
- organizations: any companies, startups, or brands mentioned

`)
	prompt.WriteString("Transcript:\n")
	prompt.WriteString(transcript)
	return prompt.String()
}

// AssembleText joins transcript segments in order, one per line, and cuts
// the result at maxChars with a marker. maxChars <= 0 disables the limit.
func AssembleText(t *core.Transcript, maxChars int) (string, bool) {
	var text string
	if len(t.Segments) > 0 {
		lines := make([]string, 0, len(t.Segments))
		for _, seg := range t.Segments {
			if s := strings.TrimSpace(seg.Text); s != "" {
				lines = append(lines, s)
			}
		}
		text = strings.Join(lines, "\n")
	} else {
		text = strings.TrimSpace(t.FullText)
	}

	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncationMarker, true
}

// StructuredSummary is the reasoner's JSON response
type StructuredSummary struct {
	Synopsis      string   `json:"synopsis"`
	KeyTopics     []string `json:"key_topics"`
	Themes        []string `json:"themes"`
	Quotes        []string `json:"quotes"`
	Organizations []string `json:"organizations"`
}

// ParseSummaryResponse decodes and validates a reasoner response. Markdown
// code fences and text around the JSON object are tolerated.
func ParseSummaryResponse(response string) (*StructuredSummary, error) {
	raw := stripFences(response)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var parsed StructuredSummary
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse summary JSON: %w", err)
	}

	parsed.Synopsis = strings.TrimSpace(parsed.Synopsis)
	parsed.KeyTopics = clean(parsed.KeyTopics, 5)
	parsed.Themes = clean(parsed.Themes, 4)
	parsed.Quotes = clean(parsed.Quotes, 3)
	parsed.Organizations = clean(parsed.Organizations, 0)

	if parsed.Synopsis == "" {
		return nil, fmt.Errorf("summary has no synopsis")
	}
	if len(parsed.KeyTopics) == 0 {
		return nil, fmt.Errorf("summary has no key topics")
	}
	return &parsed, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// clean trims items, drops empties and duplicates, and keeps at most limit
func clean(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
