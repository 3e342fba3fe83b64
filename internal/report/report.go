package report

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/train"
)

// samplePredictions is how many prediction rows the report shows.
const samplePredictions = 10

// Compose renders an evaluation, and the training run that produced the
// checkpoint when known, as markdown.
func Compose(eval *train.Evaluation, tr *train.Result) string {
	var b strings.Builder

	b.WriteString("# Evaluation Report\n\n")
	fmt.Fprintf(&b, "Checkpoint: `%s`\n\n", eval.Checkpoint)

	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Test images | %d |\n", eval.Total)
	fmt.Fprintf(&b, "| Accuracy | %.2f%% |\n", eval.Accuracy)
	fmt.Fprintf(&b, "| Precision (macro) | %.4f |\n", eval.Precision)
	fmt.Fprintf(&b, "| Recall (macro) | %.4f |\n", eval.Recall)
	fmt.Fprintf(&b, "| F1 (macro) | %.4f |\n", eval.F1)
	if eval.Skipped > 0 {
		fmt.Fprintf(&b, "| Unreadable images skipped | %d |\n", eval.Skipped)
	}

	if tr != nil && len(tr.Epochs) > 0 {
		b.WriteString("\n## Training\n\n")
		fmt.Fprintf(&b, "Best validation loss %.4f at epoch %d.\n\n", tr.BestValLoss, tr.BestEpoch)
		b.WriteString("| Epoch | Phase | Loss | Accuracy | Saved |\n|---|---|---|---|---|\n")
		for _, e := range tr.Epochs {
			saved := ""
			if e.Saved {
				saved = "yes"
			}
			fmt.Fprintf(&b, "| %d | %s | %.4f | %.2f%% | %s |\n", e.Epoch, e.Phase, e.Loss, e.Accuracy, saved)
		}
	}

	b.WriteString("\n## Confusion Matrix\n\n")
	b.WriteString("| Actual \\ Predicted |")
	for _, c := range eval.Classes {
		fmt.Fprintf(&b, " %s |", c)
	}
	b.WriteString("\n|---|" + strings.Repeat("---|", len(eval.Classes)) + "\n")
	for i, row := range eval.Confusion {
		fmt.Fprintf(&b, "| %s |", eval.Classes[i])
		for _, v := range row {
			fmt.Fprintf(&b, " %d |", v)
		}
		b.WriteString("\n")
	}

	if len(eval.Predictions) > 0 {
		b.WriteString("\n## Sample Predictions\n\n")
		b.WriteString("| Image Path | Actual Label | Predicted Label |\n|---|---|---|\n")
		for _, p := range eval.Predictions[:min(samplePredictions, len(eval.Predictions))] {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", p.Path, p.Actual, p.Predicted)
		}
	}

	return b.String()
}

// Composer stores rendered reports in the ledger and on disk.
type Composer struct {
	db   *database.DB
	path string
}

// NewComposer creates a composer that writes the report file to path.
func NewComposer(db *database.DB, path string) *Composer {
	return &Composer{db: db, path: path}
}

// Publish composes the report, records the evaluation with it and writes
// the markdown file. When tr is nil the latest training run in the ledger
// is used instead.
func (c *Composer) Publish(eval *train.Evaluation, tr *train.Result) (*database.Evaluation, error) {
	if tr == nil {
		var err error
		if tr, err = c.latestTraining(); err != nil {
			log.Printf("Error loading training history: %v", err)
		}
	}

	md := Compose(eval, tr)
	rec := database.Evaluation{
		Checkpoint:     eval.Checkpoint,
		Total:          eval.Total,
		Accuracy:       eval.Accuracy,
		Precision:      eval.Precision,
		Recall:         eval.Recall,
		F1:             eval.F1,
		Confusion:      eval.Confusion,
		ReportMarkdown: &md,
	}
	if tr != nil {
		rec.RunID = &tr.RunID
	}

	id, err := c.db.InsertEvaluation(rec)
	if err != nil {
		return nil, fmt.Errorf("recording evaluation: %w", err)
	}
	rec.ID = id

	if c.path != "" {
		if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
			return nil, fmt.Errorf("creating report directory: %w", err)
		}
		if err := os.WriteFile(c.path, []byte(md), 0o644); err != nil {
			return nil, fmt.Errorf("writing report: %w", err)
		}
		log.Printf("Report written to %s", c.path)
	}
	return &rec, nil
}

func (c *Composer) latestTraining() (*train.Result, error) {
	run, err := c.db.GetLatestTrainingRun()
	if err != nil || run == nil {
		return nil, err
	}
	epochs, err := c.db.GetEpochs(run.ID)
	if err != nil {
		return nil, err
	}

	tr := &train.Result{RunID: run.ID, Checkpoint: run.Checkpoint}
	if run.BestValLoss != nil {
		tr.BestValLoss = *run.BestValLoss
	}
	if run.BestEpoch != nil {
		tr.BestEpoch = *run.BestEpoch
	}
	for _, e := range epochs {
		tr.Epochs = append(tr.Epochs, train.EpochStats{
			Epoch:    e.Epoch,
			Phase:    e.Phase,
			Loss:     e.Loss,
			Accuracy: e.Accuracy,
			Saved:    e.Saved,
		})
	}
	return tr, nil
}
