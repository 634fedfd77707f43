package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"podpipe/internal/core"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Builders Talk</title>
    <item>
      <title>Episode Two</title>
      <description><![CDATA[<p>We discuss <b>databases</b>.</p><p>And queues.</p>]]></description>
      <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep2.mp3" type="audio/mpeg" length="1234"/>
    </item>
    <item>
      <title>Blog post</title>
      <description>No audio here</description>
    </item>
    <item>
      <title>Episode One</title>
      <itunes:summary>Plain summary</itunes:summary>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
      <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg" length="1234"/>
    </item>
  </channel>
</rss>`

func TestParse(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	fm := NewFeedManager("podpipe-test", 5*time.Second)
	feed, err := fm.Parse(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if gotUA != "podpipe-test" {
		t.Errorf("Expected custom user agent, got %q", gotUA)
	}
	if feed.Title != "Builders Talk" {
		t.Errorf("Expected feed title, got %q", feed.Title)
	}
	if len(feed.Episodes) != 2 {
		t.Fatalf("Expected 2 audio episodes, got %d", len(feed.Episodes))
	}

	first := feed.Episodes[0]
	if first.EnclosureURL != "https://cdn.example.com/ep2.mp3" {
		t.Errorf("Expected feed order to be kept, got %s", first.EnclosureURL)
	}
	if first.Description != "We discuss databases. And queues." {
		t.Errorf("Expected stripped description, got %q", first.Description)
	}
	if first.PublishDate == nil || first.PublishDate.Day() != 2 {
		t.Errorf("Expected parsed publish date, got %v", first.PublishDate)
	}
	if feed.Episodes[1].Description != "Plain summary" {
		t.Errorf("Expected itunes summary fallback, got %q", feed.Episodes[1].Description)
	}
}

func TestParse_Unavailable(t *testing.T) {
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer notFound.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not a feed"))
	}))
	defer garbage.Close()

	fm := NewFeedManager("", time.Second)
	for name, url := range map[string]string{
		"status":  notFound.URL,
		"parse":   garbage.URL,
		"network": "http://127.0.0.1:1/feed.xml",
	} {
		_, err := fm.Parse(context.Background(), url)
		if !errors.Is(err, core.ErrFeedUnavailable) {
			t.Errorf("%s: expected ErrFeedUnavailable, got %v", name, err)
		}
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  plain   text\n here ", "plain text here"},
		{"<p>Hello <a href='x'>world</a></p><script>alert(1)</script>", "Hello world"},
		{"line one<br>line two", "line one line two"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
