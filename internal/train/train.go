package train

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"math/rand/v2"

	"github.com/rs/xid"

	"github.com/TobiSchelling/legitcheck/internal/config"
	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/model"
)

// Phases of an epoch.
const (
	PhaseTrain = "train"
	PhaseVal   = "val"
)

// EpochStats is the outcome of one phase of one epoch.
type EpochStats struct {
	Epoch    int
	Phase    string
	Loss     float64
	Accuracy float64
	Saved    bool
}

// Result summarizes a training run.
type Result struct {
	RunID       string
	Epochs      []EpochStats
	BestValLoss float64
	BestEpoch   int
	Checkpoint  string
	Skipped     int
}

// Trainer fits the classification head on frozen backbone features.
type Trainer struct {
	ext        model.Extractor
	db         *database.DB
	head       *model.Head
	dropout    float64
	lr         float64
	seed       int64
	epochs     int
	batchSize  int
	imageSize  int
	checkpoint string
	rng        *rand.Rand
}

// NewTrainer creates a trainer. The head is initialized when Train starts.
func NewTrainer(cfg *config.Config, db *database.DB, ext model.Extractor) *Trainer {
	tc := cfg.Training
	seed1, seed2 := uint64(tc.Seed), uint64(tc.Seed)
	if tc.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed1, seed2))

	return &Trainer{
		ext:        ext,
		db:         db,
		dropout:    tc.Dropout,
		lr:         tc.LearningRate,
		seed:       rng.Int64(),
		epochs:     tc.Epochs,
		batchSize:  tc.BatchSize,
		imageSize:  cfg.Model.ImageSize,
		checkpoint: cfg.CheckpointPath(),
		rng:        rng,
	}
}

type features struct {
	x     []float32
	label int
}

// Train runs the configured number of epochs. Each epoch has a training
// phase with augmentation, dropout and Adam updates, followed by a
// validation phase without any of them. The checkpoint is written every
// time the validation loss improves on all earlier epochs.
func (t *Trainer) Train(ctx context.Context, trainSet, valSet *Dataset) (*Result, error) {
	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("training split %s has no images", trainSet.Dir)
	}
	if valSet.Len() == 0 {
		return nil, fmt.Errorf("validation split %s has no images", valSet.Dir)
	}

	head, err := model.NewHead(t.ext.Dim(), len(model.Classes), t.dropout, t.lr, t.seed)
	if err != nil {
		return nil, err
	}
	t.head = head

	r := &Result{RunID: xid.New().String(), BestValLoss: math.Inf(1), Checkpoint: t.checkpoint}
	if err := t.db.InsertTrainingRun(r.RunID, t.epochs, t.checkpoint); err != nil {
		return nil, fmt.Errorf("recording training run: %w", err)
	}

	log.Printf("Training on %d images, validating on %d", trainSet.Len(), valSet.Len())

	// The backbone is frozen and validation images are not augmented, so
	// their features do not change between epochs.
	valFeatures, skipped, err := t.extractAll(ctx, valSet, false)
	if err != nil {
		return nil, err
	}
	r.Skipped += skipped
	if len(valFeatures) == 0 {
		return nil, fmt.Errorf("no validation image could be decoded")
	}

	for epoch := 1; epoch <= t.epochs; epoch++ {
		log.Printf("Epoch %d/%d", epoch, t.epochs)

		order := t.rng.Perm(trainSet.Len())
		shuffled := &Dataset{Dir: trainSet.Dir, Classes: trainSet.Classes, Samples: make([]Sample, len(order))}
		for i, j := range order {
			shuffled.Samples[i] = trainSet.Samples[j]
		}
		trainFeatures, skipped, err := t.extractAll(ctx, shuffled, true)
		if err != nil {
			return nil, err
		}
		if epoch == 1 {
			r.Skipped += skipped
		}
		if len(trainFeatures) == 0 {
			return nil, fmt.Errorf("no training image could be decoded")
		}

		trainStats, err := t.runPhase(trainFeatures, true)
		if err != nil {
			return nil, err
		}
		trainStats.Epoch = epoch
		r.Epochs = append(r.Epochs, trainStats)
		t.record(r.RunID, trainStats)

		valStats, err := t.runPhase(valFeatures, false)
		if err != nil {
			return nil, err
		}
		valStats.Epoch = epoch
		if valStats.Loss < r.BestValLoss {
			r.BestValLoss = valStats.Loss
			r.BestEpoch = epoch
			ckpt, err := model.NewCheckpoint(t.head, t.imageSize, epoch, valStats.Loss)
			if err != nil {
				return nil, err
			}
			if err := model.SaveCheckpoint(t.checkpoint, ckpt); err != nil {
				return nil, err
			}
			valStats.Saved = true
		}
		r.Epochs = append(r.Epochs, valStats)
		t.record(r.RunID, valStats)

		if valStats.Saved {
			log.Println("Model saved")
		}
	}

	if err := t.db.FinishTrainingRun(r.RunID, r.BestValLoss, r.BestEpoch); err != nil {
		log.Printf("Error recording training run: %v", err)
	}
	log.Printf("Training complete: best validation loss %.4f at epoch %d", r.BestValLoss, r.BestEpoch)
	return r, nil
}

// runPhase iterates the features in batches. Loss is the mean of the
// per-batch mean losses; accuracy is a percentage over all samples.
func (t *Trainer) runPhase(feats []features, training bool) (EpochStats, error) {
	phase := PhaseVal
	if training {
		phase = PhaseTrain
	}

	var lossSum float64
	var batches, correct int
	for start := 0; start < len(feats); start += t.batchSize {
		batch := feats[start:min(start+t.batchSize, len(feats))]
		xs := make([][]float32, len(batch))
		labels := make([]int, len(batch))
		for i, f := range batch {
			xs[i], labels[i] = f.x, f.label
		}

		var loss float64
		var preds []int
		var err error
		if training {
			loss, preds, err = t.head.TrainBatch(xs, labels)
		} else {
			loss, preds, err = t.head.EvalBatch(xs, labels)
		}
		if err != nil {
			return EpochStats{}, err
		}
		lossSum += loss
		batches++
		for i, p := range preds {
			if p == labels[i] {
				correct++
			}
		}
	}

	stats := EpochStats{
		Phase:    phase,
		Loss:     lossSum / float64(batches),
		Accuracy: 100 * float64(correct) / float64(len(feats)),
	}
	label := "Train"
	if !training {
		label = "Val"
	}
	log.Printf("%s - Loss: %.4f, Accuracy: %.2f%%", label, stats.Loss, stats.Accuracy)
	return stats, nil
}

// extractAll computes backbone features for every decodable sample in
// order. Undecodable files are logged and counted.
func (t *Trainer) extractAll(ctx context.Context, ds *Dataset, augment bool) ([]features, int, error) {
	var out []features
	skipped := 0
	for _, s := range ds.Samples {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		img, err := model.DecodeFile(s.Path)
		if err != nil {
			log.Printf("Skipping %s: %v", s.Path, err)
			skipped++
			continue
		}
		x, err := t.ext.Extract(t.prepare(img, augment))
		if err != nil {
			return nil, skipped, fmt.Errorf("extracting features for %s: %w", s.Path, err)
		}
		out = append(out, features{x: x, label: s.Label})
	}
	return out, skipped, nil
}

func (t *Trainer) prepare(img image.Image, augment bool) []float32 {
	resized := model.Resize(img, t.imageSize)
	if augment {
		resized = Augment(resized, t.rng)
	}
	return model.Normalize(resized)
}

func (t *Trainer) record(runID string, s EpochStats) {
	err := t.db.InsertEpoch(database.Epoch{
		RunID:    runID,
		Epoch:    s.Epoch,
		Phase:    s.Phase,
		Loss:     s.Loss,
		Accuracy: s.Accuracy,
		Saved:    s.Saved,
	})
	if err != nil {
		log.Printf("Error recording epoch %d: %v", s.Epoch, err)
	}
}
