package train

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"

	"github.com/TobiSchelling/legitcheck/internal/model"
)

// PredictionRow is the outcome for one test image.
type PredictionRow struct {
	Path      string
	Actual    string
	Predicted string
}

// Evaluation holds test-set metrics for a checkpoint.
type Evaluation struct {
	Checkpoint  string
	Classes     []string
	Predictions []PredictionRow
	Total       int
	Correct     int
	Skipped     int
	Accuracy    float64 // percent
	Precision   float64 // macro
	Recall      float64 // macro
	F1          float64 // macro
	Confusion   [][]int // rows actual, columns predicted
}

// Evaluate loads the checkpoint and runs the test split through it once
// without dropout or updates.
func Evaluate(ctx context.Context, ext model.Extractor, checkpointPath string, testSet *Dataset) (*Evaluation, error) {
	ckpt, err := model.LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}
	if ext.Dim() != ckpt.FeatureDim {
		return nil, fmt.Errorf("backbone produces %d features, checkpoint expects %d", ext.Dim(), ckpt.FeatureDim)
	}
	if testSet.Len() == 0 {
		return nil, fmt.Errorf("test split %s has no images", testSet.Dir)
	}
	head, err := ckpt.Head()
	if err != nil {
		return nil, err
	}

	e := &Evaluation{Checkpoint: checkpointPath, Classes: ckpt.Classes}
	var yTrue, yPred []int
	for _, s := range testSet.Samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := model.DecodeFile(s.Path)
		if err != nil {
			log.Printf("Skipping %s: %v", s.Path, err)
			e.Skipped++
			continue
		}
		x, err := ext.Extract(model.Preprocess(img, ckpt.ImageSize))
		if err != nil {
			return nil, fmt.Errorf("extracting features for %s: %w", s.Path, err)
		}
		probs, err := head.Probabilities(x)
		if err != nil {
			return nil, err
		}
		pred := model.ArgMax(probs)

		yTrue = append(yTrue, s.Label)
		yPred = append(yPred, pred)
		e.Predictions = append(e.Predictions, PredictionRow{
			Path:      s.Path,
			Actual:    ckpt.Classes[s.Label],
			Predicted: ckpt.Classes[pred],
		})
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("no test image could be decoded")
	}

	e.Total = len(yTrue)
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			e.Correct++
		}
	}
	e.Accuracy = 100 * float64(e.Correct) / float64(e.Total)
	e.Precision, e.Recall, e.F1 = MacroScores(yTrue, yPred)
	e.Confusion = ConfusionMatrix(yTrue, yPred, len(ckpt.Classes))

	log.Printf("Test Accuracy: %.2f%%", e.Accuracy)
	log.Printf("Precision: %.4f", e.Precision)
	log.Printf("Recall: %.4f", e.Recall)
	log.Printf("F1 Score: %.4f", e.F1)
	return e, nil
}

// WritePredictionsCSV writes one row per evaluated image.
func (e *Evaluation) WritePredictionsCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing predictions: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"Image Path", "Actual Label", "Predicted Label"})
	for _, p := range e.Predictions {
		w.Write([]string{p.Path, p.Actual, p.Predicted})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing predictions: %w", err)
	}
	return f.Close()
}
