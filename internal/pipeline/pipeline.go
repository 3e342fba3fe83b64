package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/TobiSchelling/legitcheck/internal/collect"
	"github.com/TobiSchelling/legitcheck/internal/config"
	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/model"
	"github.com/TobiSchelling/legitcheck/internal/report"
	"github.com/TobiSchelling/legitcheck/internal/train"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Deps are the collaborators that talk to the network or load a model.
// Source and Downloader are only needed for Collect, Extractor only for
// Train and Evaluate.
type Deps struct {
	Source     collect.Source
	Downloader collect.Downloader
	Extractor  model.Extractor
}

// Pipeline runs collection, training and evaluation in order.
type Pipeline struct {
	cfg  *config.Config
	db   *database.DB
	deps Deps
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, db: db, deps: deps}
}

// Run executes Collect, Train and Evaluate, stopping at the first failure.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}

	log.Println("Step 1/3: Collecting labelled images...")
	run, err := p.Collect(ctx)
	step := StepResult{Name: "Collect", Err: err}
	if err == nil {
		step.Summary = fmt.Sprintf("Real: %d, Fake: %d, Uncertain: %d, %d images downloaded",
			run.Counts.Real, run.Counts.Fake, run.Counts.Uncertain, run.ImagesDownloaded)
	}
	r.Steps = append(r.Steps, step)
	if err != nil {
		return r
	}

	log.Println("Step 2/3: Training classification head...")
	tr, err := p.Train(ctx)
	step = StepResult{Name: "Train", Err: err}
	if err == nil {
		step.Summary = fmt.Sprintf("%d epochs, best validation loss %.4f at epoch %d",
			len(tr.Epochs)/2, tr.BestValLoss, tr.BestEpoch)
	}
	r.Steps = append(r.Steps, step)
	if err != nil {
		return r
	}

	log.Println("Step 3/3: Evaluating on the test split...")
	eval, err := p.Evaluate(ctx, tr)
	step = StepResult{Name: "Evaluate", Err: err}
	if err == nil {
		step.Summary = fmt.Sprintf("Accuracy %.2f%%, macro F1 %.4f on %d images", eval.Accuracy, eval.F1, eval.Total)
	}
	r.Steps = append(r.Steps, step)
	return r
}

// Collect runs one collection pass into the dataset root.
func (p *Pipeline) Collect(ctx context.Context) (*collect.Run, error) {
	if p.deps.Source == nil || p.deps.Downloader == nil {
		return nil, fmt.Errorf("collect needs a post source and a downloader")
	}
	return collect.NewCollector(p.cfg, p.db, p.deps.Source, p.deps.Downloader).Collect(ctx)
}

// Train fits the head on the train split, validating on val.
func (p *Pipeline) Train(ctx context.Context) (*train.Result, error) {
	if p.deps.Extractor == nil {
		return nil, fmt.Errorf("training needs a feature extractor")
	}
	trainSet, err := p.split(collect.SplitTrain)
	if err != nil {
		return nil, err
	}
	valSet, err := p.split(collect.SplitVal)
	if err != nil {
		return nil, err
	}
	return train.NewTrainer(p.cfg, p.db, p.deps.Extractor).Train(ctx, trainSet, valSet)
}

// Evaluate scores the saved checkpoint on the test split and writes the
// predictions table, the confusion matrix image and the report. tr may be
// nil when training happened in an earlier invocation.
func (p *Pipeline) Evaluate(ctx context.Context, tr *train.Result) (*train.Evaluation, error) {
	if p.deps.Extractor == nil {
		return nil, fmt.Errorf("evaluation needs a feature extractor")
	}
	testSet, err := p.split(collect.SplitTest)
	if err != nil {
		return nil, err
	}
	eval, err := train.Evaluate(ctx, p.deps.Extractor, p.cfg.CheckpointPath(), testSet)
	if err != nil {
		return nil, err
	}

	csvPath := p.cfg.ArtifactPath(p.cfg.Training.PredictionsCSV)
	pngPath := p.cfg.ArtifactPath(p.cfg.Training.ConfusionPNG)
	for _, dir := range []string{filepath.Dir(csvPath), filepath.Dir(pngPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := eval.WritePredictionsCSV(csvPath); err != nil {
		return nil, err
	}
	if err := train.WriteConfusionPNG(pngPath, eval.Confusion, eval.Classes); err != nil {
		return nil, err
	}
	log.Printf("Predictions written to %s, confusion matrix to %s", csvPath, pngPath)

	composer := report.NewComposer(p.db, p.cfg.ArtifactPath(p.cfg.Training.ReportPath))
	if _, err := composer.Publish(eval, tr); err != nil {
		return nil, err
	}
	return eval, nil
}

// DryRun reports what is on disk and in the ledger without touching the
// network or loading a model.
func (p *Pipeline) DryRun() *Result {
	r := &Result{}
	root := p.cfg.DatasetRoot()

	seen, _ := p.db.GetStats()
	summary := fmt.Sprintf("[dry-run] Would collect from r/%s into %s", p.cfg.Reddit.Subreddit, root)
	if seen != nil {
		summary += fmt.Sprintf(" (%d posts already in ledger)", seen.PostsProcessed)
	}
	r.Steps = append(r.Steps, StepResult{Name: "Collect", Summary: summary})

	r.Steps = append(r.Steps, StepResult{
		Name: "Train",
		Summary: fmt.Sprintf("[dry-run] train: %s, val: %s, %d epochs",
			p.describe(collect.SplitTrain), p.describe(collect.SplitVal), p.cfg.Training.Epochs),
	})

	ckpt := p.cfg.CheckpointPath()
	state := "missing"
	if _, err := os.Stat(ckpt); err == nil {
		state = "present"
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Evaluate",
		Summary: fmt.Sprintf("[dry-run] test: %s, checkpoint %s (%s)", p.describe(collect.SplitTest), ckpt, state),
	})
	return r
}

func (p *Pipeline) split(name string) (*train.Dataset, error) {
	return train.LoadFolder(filepath.Join(p.cfg.DatasetRoot(), name), model.Classes)
}

func (p *Pipeline) describe(name string) string {
	ds, err := p.split(name)
	if err != nil {
		return "not found"
	}
	counts := ds.Count()
	return fmt.Sprintf("%d images (Fake %d, Real %d)", ds.Len(), counts[0], counts[1])
}
