package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Reddit    Reddit    `yaml:"reddit"`
	Collector Collector `yaml:"collector"`
	Dataset   Dataset   `yaml:"dataset"`
	Model     Model     `yaml:"model"`
	Training  Training  `yaml:"training"`
	Server    Server    `yaml:"server"`
	Output    Output    `yaml:"output"`
	Logging   Logging   `yaml:"logging"`
}

type Reddit struct {
	Subreddit         string        `yaml:"subreddit"`
	Source            string        `yaml:"source"` // "api" or "rss"
	ClientIDEnv       string        `yaml:"client_id_env"`
	ClientSecretEnv   string        `yaml:"client_secret_env"`
	UserAgent         string        `yaml:"user_agent"`
	APIURL            string        `yaml:"api_url"`
	PublicURL         string        `yaml:"public_url"`
	TokenURL          string        `yaml:"token_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type Collector struct {
	MaxReal         int           `yaml:"max_real"`
	MaxFake         int           `yaml:"max_fake"`
	MaxUncertain    int           `yaml:"max_uncertain"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	SplitWeights    SplitWeights  `yaml:"split_weights"`
	DeferDownloads  bool          `yaml:"defer_downloads"`
	SkipSeen        bool          `yaml:"skip_seen"`
	Seed            int64         `yaml:"seed"`
	RealKeywords    []string      `yaml:"real_keywords"`
	FakeKeywords    []string      `yaml:"fake_keywords"`
}

type SplitWeights struct {
	Train float64 `yaml:"train"`
	Val   float64 `yaml:"val"`
	Test  float64 `yaml:"test"`
}

type Dataset struct {
	Root string `yaml:"root"`
}

type Model struct {
	Backbone   string `yaml:"backbone"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	ImageSize  int    `yaml:"image_size"`
	FeatureDim int    `yaml:"feature_dim"`
	Checkpoint string `yaml:"checkpoint"`
	// SharedLibrary points onnxruntime_go at libonnxruntime when it is not on the default search path.
	SharedLibrary string `yaml:"shared_library"`
}

type Training struct {
	Epochs         int     `yaml:"epochs"`
	BatchSize      int     `yaml:"batch_size"`
	LearningRate   float64 `yaml:"learning_rate"`
	Dropout        float64 `yaml:"dropout"`
	Seed           int64   `yaml:"seed"`
	PredictionsCSV string  `yaml:"predictions_csv"`
	ConfusionPNG   string  `yaml:"confusion_png"`
	ReportPath     string  `yaml:"report_path"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

// Logging selects log detail: INFO or DEBUG. DEBUG adds the source
// location to every line, like --verbose.
type Logging struct {
	Level string `yaml:"level"`
}

// Debug reports whether the configured level is DEBUG.
func (l Logging) Debug() bool {
	return strings.EqualFold(l.Level, "DEBUG")
}

// ConfigDir returns the XDG config directory for legitcheck.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "legitcheck")
}

// DataDir returns the XDG data directory for legitcheck.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "legitcheck")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/legitcheck/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'legitcheck init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Reddit: Reddit{
			Subreddit:         "VETEMENTS",
			Source:            "api",
			ClientIDEnv:       "REDDIT_CLIENT_ID",
			ClientSecretEnv:   "REDDIT_CLIENT_SECRET",
			UserAgent:         "legitcheck/1.0 (dataset collector)",
			APIURL:            "https://oauth.reddit.com",
			PublicURL:         "https://www.reddit.com",
			TokenURL:          "https://www.reddit.com/api/v1/access_token",
			RequestsPerMinute: 60,
			RequestTimeout:    30 * time.Second,
		},
		Collector: Collector{
			MaxReal:         280,
			MaxFake:         280,
			MaxUncertain:    280,
			DownloadTimeout: 10 * time.Second,
			SplitWeights:    SplitWeights{Train: 0.8, Val: 0.1, Test: 0.1},
			SkipSeen:        true,
		},
		Dataset: Dataset{Root: "vetements_data"},
		Model: Model{
			Backbone:   "models/efficientnet_b5_features.onnx",
			InputName:  "input",
			OutputName: "features",
			ImageSize:  456,
			FeatureDim: 2048,
			Checkpoint: "best_model.json",
		},
		Training: Training{
			Epochs:         10,
			BatchSize:      4,
			LearningRate:   0.0003,
			Dropout:        0.4,
			PredictionsCSV: "test_predictions.csv",
			ConfusionPNG:   "confusion_matrix.png",
			ReportPath:     "report.md",
		},
		Server:  Server{Host: "0.0.0.0", Port: 5000},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Reddit.Source {
	case "api", "rss":
	default:
		return fmt.Errorf("reddit.source must be \"api\" or \"rss\", got %q", c.Reddit.Source)
	}
	if c.Collector.MaxReal < 0 || c.Collector.MaxFake < 0 || c.Collector.MaxUncertain < 0 {
		return fmt.Errorf("collector maxima must not be negative")
	}
	w := c.Collector.SplitWeights
	if w.Train < 0 || w.Val < 0 || w.Test < 0 || w.Train+w.Val+w.Test == 0 {
		return fmt.Errorf("collector.split_weights must be non-negative and not all zero")
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.batch_size must be positive")
	}
	if c.Training.Dropout < 0 || c.Training.Dropout >= 1 {
		return fmt.Errorf("training.dropout must be in [0, 1)")
	}
	if !strings.EqualFold(c.Logging.Level, "INFO") && !c.Logging.Debug() {
		return fmt.Errorf("logging.level must be INFO or DEBUG, got %q", c.Logging.Level)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// CheckpointPath resolves the checkpoint relative to the data directory
// unless it is absolute.
func (c *Config) CheckpointPath() string {
	return c.resolve(c.Model.Checkpoint)
}

// DatasetRoot resolves the dataset root the same way as the checkpoint.
func (c *Config) DatasetRoot() string {
	return c.resolve(c.Dataset.Root)
}

// ArtifactPath resolves an evaluation artifact (predictions CSV, confusion
// matrix, report) the same way as the checkpoint.
func (c *Config) ArtifactPath(name string) string {
	return c.resolve(name)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.GetDataDir(), p)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
