package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Reddit.Subreddit != "VETEMENTS" {
		t.Errorf("expected subreddit 'VETEMENTS', got %q", cfg.Reddit.Subreddit)
	}
	if cfg.Collector.MaxReal != 280 || cfg.Collector.MaxFake != 280 || cfg.Collector.MaxUncertain != 280 {
		t.Errorf("expected maxima of 280, got %+v", cfg.Collector)
	}
	if cfg.Collector.DownloadTimeout != 10*time.Second {
		t.Errorf("expected 10s download timeout, got %s", cfg.Collector.DownloadTimeout)
	}
	if cfg.Collector.SplitWeights.Train != 0.8 {
		t.Errorf("expected train weight 0.8, got %f", cfg.Collector.SplitWeights.Train)
	}
	if cfg.Model.ImageSize != 456 {
		t.Errorf("expected image size 456, got %d", cfg.Model.ImageSize)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("expected port 5000, got %d", cfg.Server.Port)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
reddit:
  subreddit: FashionReps
  source: rss
collector:
  max_real: 10
training:
  epochs: 3
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Reddit.Source != "rss" {
		t.Errorf("expected source 'rss', got %q", cfg.Reddit.Source)
	}
	if cfg.Collector.MaxReal != 10 {
		t.Errorf("expected max_real 10, got %d", cfg.Collector.MaxReal)
	}
	if cfg.Training.Epochs != 3 {
		t.Errorf("expected 3 epochs, got %d", cfg.Training.Epochs)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Collector.MaxFake != 280 {
		t.Errorf("expected default max_fake, got %d", cfg.Collector.MaxFake)
	}
	if cfg.Training.LearningRate != 0.0003 {
		t.Errorf("expected default learning rate, got %f", cfg.Training.LearningRate)
	}
}

func TestParseRejectsUnknownSource(t *testing.T) {
	_, err := parse([]byte("reddit:\n  source: pushshift\n"))
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestParseRejectsZeroWeights(t *testing.T) {
	data := []byte(`
collector:
  split_weights:
    train: 0
    val: 0
    test: 0
`)
	if _, err := parse(data); err == nil {
		t.Fatal("expected error for all-zero split weights")
	}
}

func TestParseLoggingLevel(t *testing.T) {
	cfg, err := parse([]byte("logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Logging.Debug() {
		t.Error("expected debug logging")
	}
	if Default().Logging.Debug() {
		t.Error("expected default level not to be debug")
	}
	if _, err := parse([]byte("logging:\n  level: TRACE\n")); err == nil {
		t.Error("expected error for unknown logging level")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Dataset.Root != "vetements_data" {
		t.Errorf("expected dataset root from file, got %q", cfg.Dataset.Root)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestCheckpointPath(t *testing.T) {
	cfg := Default()
	cfg.Output.DataDir = "/data"
	if got := cfg.CheckpointPath(); got != filepath.Join("/data", "best_model.json") {
		t.Errorf("unexpected checkpoint path %q", got)
	}

	cfg.Model.Checkpoint = "/models/head.json"
	if got := cfg.CheckpointPath(); got != "/models/head.json" {
		t.Errorf("expected absolute checkpoint path to be kept, got %q", got)
	}
}

func TestDatasetRoot(t *testing.T) {
	cfg := Default()
	cfg.Output.DataDir = "/data"
	if got := cfg.DatasetRoot(); got != filepath.Join("/data", "vetements_data") {
		t.Errorf("unexpected dataset root %q", got)
	}
}
