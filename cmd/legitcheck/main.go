package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/legitcheck/internal/collect"
	"github.com/TobiSchelling/legitcheck/internal/config"
	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/fetch"
	"github.com/TobiSchelling/legitcheck/internal/model"
	"github.com/TobiSchelling/legitcheck/internal/pipeline"
	"github.com/TobiSchelling/legitcheck/internal/server"
)

var version = "dev"

// stagingDir holds downloads under the dataset root until their post is
// classified and they are moved into a split.
const stagingDir = ".incoming"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "legitcheck",
	Short:   "Authenticity classifier for fashion item photos",
	Long:    "legitcheck builds a labelled image dataset from forum legit-check threads, trains a real/fake classifier on it and serves predictions over HTTP.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		// Credentials may come from a local .env file.
		_ = godotenv.Load()

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Logging.Debug() {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("legitcheck", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/legitcheck/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the subreddit, quotas and model paths.")
		fmt.Println("Put REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET in the environment or a .env file to use the authenticated API.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger and dataset status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Dataset root: %s\n\n", cfg.DatasetRoot())
		fmt.Println("Collection:")
		fmt.Printf("  Runs: %d\n", stats.CollectionRuns)
		fmt.Printf("  Posts processed: %d (%d retained, %d discarded)\n",
			stats.PostsProcessed, stats.PostsRetained, stats.PostsDiscarded)
		fmt.Printf("  Real: %d, Fake: %d, Uncertain: %d\n", stats.RealPosts, stats.FakePosts, stats.UncertainPosts)
		fmt.Printf("  Images: %d\n", stats.Images)
		if entries, err := collect.ReadLogJSON(cfg.DatasetRoot()); err == nil {
			fmt.Printf("  Last run log: %d images\n", len(entries))
		}

		fmt.Println("\nModel:")
		fmt.Printf("  Training runs: %d\n", stats.TrainingRuns)
		if run, err := db.GetLatestTrainingRun(); err == nil && run != nil && run.BestValLoss != nil && run.BestEpoch != nil {
			fmt.Printf("  Latest best validation loss: %.4f (epoch %d)\n", *run.BestValLoss, *run.BestEpoch)
		}
		fmt.Printf("  Evaluations: %d\n", stats.Evaluations)
		if eval, err := db.GetLatestEvaluation(); err == nil && eval != nil {
			fmt.Printf("  Latest test accuracy: %.2f%%, macro F1 %.4f\n", eval.Accuracy, eval.F1)
		}
		return nil
	},
}

// --- collect command ---

var (
	maxReal      int
	maxFake      int
	maxUncertain int
	collectSeed  int64
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect labelled images from the configured subreddit",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("max-real") {
			cfg.Collector.MaxReal = maxReal
		}
		if flags.Changed("max-fake") {
			cfg.Collector.MaxFake = maxFake
		}
		if flags.Changed("max-uncertain") {
			cfg.Collector.MaxUncertain = maxUncertain
		}
		if flags.Changed("seed") {
			cfg.Collector.Seed = collectSeed
		}
		if maxReal < 0 || maxFake < 0 || maxUncertain < 0 {
			return fmt.Errorf("quotas must not be negative")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := signalContext()
		defer cancel()

		src, dl := collectDeps()
		fmt.Printf("Collecting from r/%s into %s\n", cfg.Reddit.Subreddit, cfg.DatasetRoot())

		run, err := pipeline.New(cfg, db, pipeline.Deps{Source: src, Downloader: dl}).Collect(ctx)
		if run != nil {
			fmt.Println("\nCollection complete:")
			fmt.Printf("  Posts processed: %d\n", run.Processed)
			fmt.Printf("  Posts skipped: %d\n", run.Skipped)
			fmt.Printf("  Posts discarded over quota: %d\n", run.Discarded)
			fmt.Printf("  Real: %d, Fake: %d, Uncertain: %d\n", run.Counts.Real, run.Counts.Fake, run.Counts.Uncertain)
			fmt.Printf("  Images downloaded: %d\n", run.ImagesDownloaded)
		}
		return err
	},
}

func init() {
	collectCmd.Flags().IntVar(&maxReal, "max-real", 0, "Override the Real post quota")
	collectCmd.Flags().IntVar(&maxFake, "max-fake", 0, "Override the Fake post quota")
	collectCmd.Flags().IntVar(&maxUncertain, "max-uncertain", 0, "Override the Uncertain post quota")
	collectCmd.Flags().Int64Var(&collectSeed, "seed", 0, "Seed for split assignment (0 = random)")
}

// --- train command ---

var epochs int

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classification head on the collected dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("epochs") {
			cfg.Training.Epochs = epochs
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ext, err := model.NewONNXExtractor(cfg.Model)
		if err != nil {
			return err
		}
		defer ext.Close()

		ctx, cancel := signalContext()
		defer cancel()

		r, err := pipeline.New(cfg, db, pipeline.Deps{Extractor: ext}).Train(ctx)
		if err != nil {
			return err
		}

		fmt.Println("\nTraining complete:")
		for _, e := range r.Epochs {
			marker := ""
			if e.Saved {
				marker = "  (saved)"
			}
			fmt.Printf("  Epoch %d %-5s loss %.4f  accuracy %.2f%%%s\n", e.Epoch, e.Phase, e.Loss, e.Accuracy, marker)
		}
		fmt.Printf("  Best validation loss %.4f at epoch %d\n", r.BestValLoss, r.BestEpoch)
		fmt.Printf("  Checkpoint: %s\n", r.Checkpoint)
		if r.Skipped > 0 {
			fmt.Printf("  Unreadable images skipped: %d\n", r.Skipped)
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().IntVar(&epochs, "epochs", 0, "Override the number of epochs")
}

// --- evaluate command ---

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the saved checkpoint on the test split",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ext, err := model.NewONNXExtractor(cfg.Model)
		if err != nil {
			return err
		}
		defer ext.Close()

		ctx, cancel := signalContext()
		defer cancel()

		eval, err := pipeline.New(cfg, db, pipeline.Deps{Extractor: ext}).Evaluate(ctx, nil)
		if err != nil {
			return err
		}

		fmt.Println("\nEvaluation complete:")
		fmt.Printf("  Test Accuracy: %.2f%%\n", eval.Accuracy)
		fmt.Printf("  Precision: %.4f\n", eval.Precision)
		fmt.Printf("  Recall: %.4f\n", eval.Recall)
		fmt.Printf("  F1 Score: %.4f\n", eval.F1)
		fmt.Printf("  Report: %s\n", cfg.ArtifactPath(cfg.Training.ReportPath))
		return nil
	},
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> train -> evaluate",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var result *pipeline.Result
		if dryRun {
			result = pipeline.New(cfg, db, pipeline.Deps{}).DryRun()
		} else {
			ext, err := model.NewONNXExtractor(cfg.Model)
			if err != nil {
				return err
			}
			defer ext.Close()

			ctx, cancel := signalContext()
			defer cancel()

			src, dl := collectDeps()
			result = pipeline.New(cfg, db, pipeline.Deps{Source: src, Downloader: dl, Extractor: ext}).Run(ctx)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Failed() {
			return fmt.Errorf("pipeline stopped after %s", result.Steps[len(result.Steps)-1].Name)
		}
		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'legitcheck serve' to start the prediction service.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		clf, err := model.Load(cfg)
		if err != nil {
			return fmt.Errorf("loading model: %w", err)
		}
		defer clf.Close()

		srv, err := server.New(clf, db)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Serving predictions at http://%s/predict\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, addr)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5000, "Port to listen on")
}

// collectDeps builds the configured post source and an image downloader
// staging into the dataset root.
func collectDeps() (collect.Source, collect.Downloader) {
	client := collect.NewRedditClient(cfg.Reddit)
	if client.IsAuthenticated() {
		log.Println("[INFO] Using authenticated Reddit API")
	} else {
		log.Println("[INFO] No Reddit credentials found, using public endpoints")
	}

	var src collect.Source = client
	if cfg.Reddit.Source == "rss" {
		src = collect.NewFeedSource(cfg.Reddit.PublicURL, client)
	}

	dl := fetch.NewDownloader(filepath.Join(cfg.DatasetRoot(), stagingDir), cfg.Collector.DownloadTimeout)
	dl.SetUserAgent(cfg.Reddit.UserAgent)
	return src, dl
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "legitcheck.db")
	return database.Open(dbPath)
}
