package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
retrieval:
  top_k: 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Retrieval.TopK != 6 {
		t.Errorf("top_k = %d, want 6", cfg.Retrieval.TopK)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_durationsAndProviders(t *testing.T) {
	path := writeConfig(t, `
embedding:
  provider: openai
  timeout: 5s
llm:
  provider: ollama
  timeout: 2m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("embedding timeout = %v", cfg.Embedding.Timeout)
	}
	if cfg.LLM.Timeout != 2*time.Minute {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Embedding.Dimensions != 1536 || cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("openai embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.LLM.Model != "llama3.2" {
		t.Errorf("ollama llm model default = %q", cfg.LLM.Model)
	}
}

func TestLoad_expandsEnvironment(t *testing.T) {
	t.Setenv("KOTAE_TEST_KEY", "sk-test")
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: "${KOTAE_TEST_KEY}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", cfg.LLM.APIKey)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/passages.db"
ingest:
  sources: ["./docs", "https://example.com/page.html"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "passages.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Ingest.Sources) != 2 {
		t.Fatalf("ingest sources: got %d", len(cfg.Ingest.Sources))
	}
	if want := filepath.Join(dir, "docs"); cfg.Ingest.Sources[0] != want {
		t.Errorf("source = %s, want %s", cfg.Ingest.Sources[0], want)
	}
	if cfg.Ingest.Sources[1] != "https://example.com/page.html" {
		t.Errorf("url source rewritten: %s", cfg.Ingest.Sources[1])
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"overlap not below size", "chunking:\n  chunk_size: 100\n  chunk_overlap: 100\n", "chunk_overlap"},
		{"unknown embedder", "embedding:\n  provider: word2vec\n", "embedding.provider"},
		{"unknown llm", "llm:\n  provider: gpt2\n", "llm.provider"},
		{"unknown mode", "retrieval:\n  mode: fuzzy\n", "retrieval.mode"},
		{"unknown splitter", "chunking:\n  splitter: sentence\n", "chunking.splitter"},
		{"bad yaml", "server: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.Overlap() != 200 {
		t.Errorf("default chunking: got %+v", cfg.Chunking)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Mode != ModeVector {
		t.Errorf("default mode: got %s", cfg.Retrieval.Mode)
	}
	if cfg.Embedding.Provider != ProviderMock || cfg.Embedding.Dimensions != 384 {
		t.Errorf("default embedding: got %+v", cfg.Embedding)
	}
	if cfg.LLM.Provider != ProviderEcho {
		t.Errorf("default llm provider: got %s", cfg.LLM.Provider)
	}
	if cfg.Prompt.Header != DefaultPromptHeader {
		t.Error("default prompt header not set")
	}
	if len(cfg.Ingest.Extensions) == 0 || cfg.Ingest.Extensions[0] != ".txt" {
		t.Errorf("ingest extensions: got %v", cfg.Ingest.Extensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaulted config should validate: %v", err)
	}
}

func TestLoad_chunkOverlap(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int
		overlap int
	}{
		{"explicit zero overlap is kept", "chunking:\n  chunk_size: 500\n  chunk_overlap: 0\n", 500, 0},
		{"explicit overlap", "chunking:\n  chunk_size: 500\n  chunk_overlap: 50\n", 500, 50},
		{"small chunk size scales default overlap", "chunking:\n  chunk_size: 100\n", 100, 20},
		{"large chunk size caps default overlap", "chunking:\n  chunk_size: 2000\n", 2000, 200},
		{"unset uses 1000/200", "debug: false\n", 1000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Chunking.ChunkSize != tt.size || cfg.Chunking.Overlap() != tt.overlap {
				t.Errorf("chunking = size %d overlap %d, want %d/%d",
					cfg.Chunking.ChunkSize, cfg.Chunking.Overlap(), tt.size, tt.overlap)
			}
		})
	}
}

func TestApplyDefaults_IngestRecursiveWhenSourcesSet(t *testing.T) {
	cfg := &Config{Ingest: IngestConfig{Sources: []string{"/tmp/docs"}}}
	ApplyDefaults(cfg)
	if cfg.Ingest.Recursive == nil || !*cfg.Ingest.Recursive {
		t.Error("recursive should default to true when sources are set")
	}
}

func TestIngestConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		c := &IngestConfig{}
		if got := c.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		c := &IngestConfig{Recursive: &f}
		if got := c.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	cfg.Embedding.Timeout = 7 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Embedding.Timeout != 7*time.Second {
		t.Errorf("loaded timeout: got %v", loaded.Embedding.Timeout)
	}
}

func TestServerConfig_Address(t *testing.T) {
	s := ServerConfig{Host: "0.0.0.0", Port: 8181}
	if got := s.Address(); got != "0.0.0.0:8181" {
		t.Errorf("Address() = %s", got)
	}
}
