package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "podpipe.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("DB_URL", "")
	t.Setenv("DATABASE_URL", "")

	dataDir := t.TempDir()
	path := writeConfig(t, "app:\n  data_dir: "+dataDir+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Database.Path != filepath.Join(dataDir, "podpipe.db") {
		t.Errorf("Expected database path under data dir, got %s", cfg.Database.Path)
	}
	if cfg.Audio.Directory != filepath.Join(dataDir, "audio") {
		t.Errorf("Expected audio dir under data dir, got %s", cfg.Audio.Directory)
	}
	if cfg.Transcription.ChunkDuration != 30*time.Minute {
		t.Errorf("Expected 30m chunks, got %v", cfg.Transcription.ChunkDuration)
	}
	if cfg.Transcription.MaxUploadBytes != 80*1024*1024 {
		t.Errorf("Expected 80MB upload limit, got %d", cfg.Transcription.MaxUploadBytes)
	}
	if cfg.Reasoner.MaxInputChars != 500000 {
		t.Errorf("Expected 500000 max input chars, got %d", cfg.Reasoner.MaxInputChars)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Pipeline.Workers)
	}
	if cfg.App.ConfigFile != path {
		t.Errorf("Expected config file %s, got %s", path, cfg.App.ConfigFile)
	}
}

func TestLoad_EnvironmentAliases(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("GROQ_WHISPER_MODEL", "whisper-large-v3")
	t.Setenv("DB_URL", "postgres://localhost/podpipe?sslmode=disable")
	t.Setenv("DB_SCHEMA", "pods")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")

	cfg, err := Load(writeConfig(t, "app:\n  data_dir: "+t.TempDir()+"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transcription.APIKey != "gsk_test" || cfg.Reasoner.Groq.APIKey != "gsk_test" {
		t.Errorf("Expected GROQ_API_KEY bound to both stages, got %q / %q", cfg.Transcription.APIKey, cfg.Reasoner.Groq.APIKey)
	}
	if cfg.Transcription.Model != "whisper-large-v3" {
		t.Errorf("Expected whisper model override, got %s", cfg.Transcription.Model)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.Schema != "pods" {
		t.Errorf("Expected postgres/pods, got %s/%s", cfg.Database.Driver, cfg.Database.Schema)
	}
	if err := cfg.RequireTranscriptionKey(); err != nil {
		t.Errorf("Expected transcription key to be valid: %v", err)
	}
	if cfg.Notify.SlackWebhookURL != "https://hooks.slack.com/services/T/B/X" || cfg.Notify.Title != "New podcast summaries" {
		t.Errorf("Unexpected notify config %+v", cfg.Notify)
	}
}

func TestLoad_FeedList(t *testing.T) {
	Reset()
	defer Reset()

	body := `app:
  data_dir: ` + t.TempDir() + `
feed_list:
  - name: Acquired
    url: https://feeds.example.com/acquired
    category: business
  - name: Lex
    url: https://feeds.example.com/lex
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.FeedList) != 2 {
		t.Fatalf("Expected 2 feeds, got %d", len(cfg.FeedList))
	}
	if cfg.FeedList[0].Category != "business" || cfg.FeedList[1].Name != "Lex" {
		t.Errorf("Unexpected feeds: %+v", cfg.FeedList)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	Reset()
	defer Reset()
	t.Setenv("DB_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_DRIVER", "")

	body := `app:
  data_dir: ` + t.TempDir() + `
database:
  driver: postgres
reasoner:
  provider: openai
pipeline:
  workers: 0
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("Expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"connection URL", "Unknown reasoner provider", "pipeline.workers"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in error, got:\n%s", want, msg)
		}
	}
}

func TestRequireReasonerKey(t *testing.T) {
	cfg := &Config{Reasoner: Reasoner{Provider: "gemini"}}
	if err := cfg.RequireReasonerKey(); err == nil {
		t.Error("Expected missing Gemini key error")
	}
	cfg.Reasoner.Gemini.APIKey = "PLACEHOLDER"
	if err := cfg.RequireReasonerKey(); err == nil {
		t.Error("Expected placeholder key to be rejected")
	}
	cfg.Reasoner.Gemini.APIKey = "real-key"
	if err := cfg.RequireReasonerKey(); err != nil {
		t.Errorf("Expected key to pass, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/pods"); got != filepath.Join(home, "pods") {
		t.Errorf("Expected home expansion, got %s", got)
	}
	t.Setenv("PODPIPE_TEST_DIR", "/tmp/x")
	if got := expandPath("$PODPIPE_TEST_DIR/audio"); got != "/tmp/x/audio" {
		t.Errorf("Expected env expansion, got %s", got)
	}
}
