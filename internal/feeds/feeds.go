// Package feeds fetches podcast RSS/Atom feeds and extracts episode enclosures
package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podpipe/internal/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const defaultUserAgent = "podpipe/1.0 (+https://github.com/podpipe/podpipe)"

// maxFeedBytes bounds the body read from a feed server
const maxFeedBytes = 20 << 20

// FeedManager fetches and parses podcast feeds
type FeedManager struct {
	client    *http.Client
	userAgent string
}

// NewFeedManager creates a new feed manager
func NewFeedManager(userAgent string, timeout time.Duration) *FeedManager {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedManager{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Parse fetches feedURL and returns its title and episodes in feed order.
// Network, HTTP and parse errors are all reported as core.ErrFeedUnavailable.
func (fm *FeedManager) Parse(ctx context.Context, feedURL string) (*core.ParsedFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid feed url %q: %v", core.ErrFeedUnavailable, feedURL, err)
	}
	req.Header.Set("User-Agent", fm.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := fm.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch feed: %v", core.ErrFeedUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed returned status %d", core.ErrFeedUnavailable, resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse feed: %v", core.ErrFeedUnavailable, err)
	}

	return convertFeed(feed), nil
}

// convertFeed keeps the items that carry an audio enclosure
func convertFeed(feed *gofeed.Feed) *core.ParsedFeed {
	parsed := &core.ParsedFeed{Title: strings.TrimSpace(feed.Title)}
	for _, item := range feed.Items {
		enclosure := audioEnclosure(item)
		if enclosure == "" {
			continue
		}

		desc := item.Description
		if desc == "" && item.ITunesExt != nil {
			desc = item.ITunesExt.Summary
		}
		if desc == "" {
			desc = item.Content
		}

		parsed.Episodes = append(parsed.Episodes, core.EpisodeDescriptor{
			Title:        strings.TrimSpace(item.Title),
			Description:  StripHTML(desc),
			PublishDate:  publishDate(item),
			EnclosureURL: enclosure,
		})
	}
	return parsed
}

func audioEnclosure(item *gofeed.Item) string {
	var fallback string
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enc.Type), "audio/") {
			return strings.TrimSpace(enc.URL)
		}
		if fallback == "" && enc.Type == "" {
			fallback = strings.TrimSpace(enc.URL)
		}
	}
	return fallback
}

func publishDate(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

// StripHTML reduces show notes to plain text with collapsed whitespace
func StripHTML(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "<") {
		return strings.Join(strings.Fields(trimmed), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return strings.Join(strings.Fields(trimmed), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("br, p, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
