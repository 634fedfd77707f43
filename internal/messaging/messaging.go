// Package messaging posts newly processed episodes to Slack and Discord
// incoming webhooks.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podpipe/internal/render"
)

// MessagePlatform represents different messaging platforms
type MessagePlatform string

const (
	PlatformSlack   MessagePlatform = "slack"
	PlatformDiscord MessagePlatform = "discord"
)

// maxItems caps episodes per message; webhooks reject very large payloads
const maxItems = 10

// SlackMessage represents a Slack message structure
type SlackMessage struct {
	Text      string       `json:"text,omitempty"`
	Blocks    []SlackBlock `json:"blocks,omitempty"`
	Username  string       `json:"username,omitempty"`
	IconEmoji string       `json:"icon_emoji,omitempty"`
}

// SlackBlock represents a Slack block kit element
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// SlackText represents text in Slack blocks
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DiscordMessage represents a Discord message structure
type DiscordMessage struct {
	Content  string         `json:"content,omitempty"`
	Username string         `json:"username,omitempty"`
	Embeds   []DiscordEmbed `json:"embeds,omitempty"`
}

// DiscordEmbed represents a Discord embed
type DiscordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	URL         string              `json:"url,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []DiscordEmbedField `json:"fields,omitempty"`
	Footer      *DiscordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

// DiscordEmbedField represents fields in Discord embeds
type DiscordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordEmbedFooter represents footer in Discord embeds
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

// MessagingClient handles sending messages to different platforms
type MessagingClient struct {
	SlackWebhookURL   string
	DiscordWebhookURL string
	HTTPClient        *http.Client
}

// NewMessagingClient creates a new messaging client
func NewMessagingClient(slackURL, discordURL string) *MessagingClient {
	return &MessagingClient{
		SlackWebhookURL:   slackURL,
		DiscordWebhookURL: discordURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platforms lists the platforms with a configured webhook
func (c *MessagingClient) Platforms() []MessagePlatform {
	var out []MessagePlatform
	if c.SlackWebhookURL != "" {
		out = append(out, PlatformSlack)
	}
	if c.DiscordWebhookURL != "" {
		out = append(out, PlatformDiscord)
	}
	return out
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func footer(count int) string {
	noun := "episodes"
	if count == 1 {
		noun = "episode"
	}
	return fmt.Sprintf("podpipe • %d %s • %s", count, noun, time.Now().Format("Jan 2, 3:04 PM"))
}

// ConvertToSlackMessage builds a bullet list with each episode's synopsis
func ConvertToSlackMessage(docs []render.EpisodeDocument, title string) *SlackMessage {
	blocks := []SlackBlock{
		{Type: "header", Text: &SlackText{Type: "plain_text", Text: title}},
		{Type: "divider"},
	}

	var bullets strings.Builder
	for i, doc := range docs {
		if i >= maxItems {
			fmt.Fprintf(&bullets, "_…and %d more_\n", len(docs)-maxItems)
			break
		}
		fmt.Fprintf(&bullets, "• *<%s|%s>*", doc.Episode.SourceURL, doc.Episode.Title)
		if doc.PodcastTitle != "" {
			fmt.Fprintf(&bullets, " (%s)", doc.PodcastTitle)
		}
		bullets.WriteString("\n")
		if doc.Summary != nil {
			bullets.WriteString(shorten(doc.Summary.Synopsis, 200) + "\n")
			if len(doc.Summary.Topics) > 0 {
				fmt.Fprintf(&bullets, "_%s_\n", strings.Join(doc.Summary.Topics, " · "))
			}
		}
		bullets.WriteString("\n")
	}

	blocks = append(blocks,
		SlackBlock{Type: "section", Text: &SlackText{Type: "mrkdwn", Text: bullets.String()}},
		SlackBlock{Type: "context", Elements: []SlackText{{Type: "mrkdwn", Text: footer(len(docs))}}},
	)

	return &SlackMessage{
		Text:      title,
		Blocks:    blocks,
		Username:  "podpipe",
		IconEmoji: ":studio_microphone:",
	}
}

// ConvertToDiscordMessage builds one embed per episode
func ConvertToDiscordMessage(docs []render.EpisodeDocument, title string) *DiscordMessage {
	msg := &DiscordMessage{Content: "**" + title + "**", Username: "podpipe"}

	for i, doc := range docs {
		if i >= maxItems {
			msg.Content += fmt.Sprintf("\n…and %d more", len(docs)-maxItems)
			break
		}
		embed := DiscordEmbed{
			Title: shorten(doc.Episode.Title, 250),
			URL:   doc.Episode.SourceURL,
			Color: 0x2563eb,
		}
		if doc.PodcastTitle != "" {
			embed.Footer = &DiscordEmbedFooter{Text: doc.PodcastTitle}
		}
		if doc.Episode.ProcessedAt != nil {
			embed.Timestamp = doc.Episode.ProcessedAt.UTC().Format(time.RFC3339)
		}
		if s := doc.Summary; s != nil {
			embed.Description = shorten(s.Synopsis, 1000)
			if len(s.Topics) > 0 {
				embed.Fields = append(embed.Fields, DiscordEmbedField{Name: "Topics", Value: strings.Join(s.Topics, ", "), Inline: true})
			}
			if len(s.Organizations) > 0 {
				embed.Fields = append(embed.Fields, DiscordEmbedField{Name: "Companies", Value: strings.Join(s.Organizations, ", "), Inline: true})
			}
		}
		msg.Embeds = append(msg.Embeds, embed)
	}
	return msg
}

func (c *MessagingClient) post(ctx context.Context, url string, message any, okStatus ...int) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	for _, s := range okStatus {
		if resp.StatusCode == s {
			return nil
		}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
}

// SendSlackMessage sends a message to the Slack webhook
func (c *MessagingClient) SendSlackMessage(ctx context.Context, message *SlackMessage) error {
	if c.SlackWebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}
	if err := c.post(ctx, c.SlackWebhookURL, message, http.StatusOK); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

// SendDiscordMessage sends a message to the Discord webhook
func (c *MessagingClient) SendDiscordMessage(ctx context.Context, message *DiscordMessage) error {
	if c.DiscordWebhookURL == "" {
		return fmt.Errorf("discord webhook URL not configured")
	}
	if err := c.post(ctx, c.DiscordWebhookURL, message, http.StatusOK, http.StatusNoContent); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// SendMessage sends a message to the specified platform
func (c *MessagingClient) SendMessage(ctx context.Context, platform MessagePlatform, docs []render.EpisodeDocument, title string) error {
	switch platform {
	case PlatformSlack:
		return c.SendSlackMessage(ctx, ConvertToSlackMessage(docs, title))
	case PlatformDiscord:
		return c.SendDiscordMessage(ctx, ConvertToDiscordMessage(docs, title))
	default:
		return fmt.Errorf("unsupported platform: %s", platform)
	}
}

// ValidateWebhookURL validates if a webhook URL is properly formatted
func ValidateWebhookURL(platform MessagePlatform, url string) error {
	if url == "" {
		return fmt.Errorf("%s webhook URL cannot be empty", platform)
	}

	switch platform {
	case PlatformSlack:
		if !strings.Contains(url, "hooks.slack.com") {
			return fmt.Errorf("invalid Slack webhook URL format")
		}
	case PlatformDiscord:
		if !strings.Contains(url, "discord.com/api/webhooks") {
			return fmt.Errorf("invalid Discord webhook URL format")
		}
	default:
		return fmt.Errorf("unknown platform: %s", platform)
	}
	return nil
}
