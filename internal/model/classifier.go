package model

import (
	"fmt"
	"image"
	"math"

	"github.com/TobiSchelling/legitcheck/internal/config"
)

// Prediction is the verdict for one image.
type Prediction struct {
	Label      string             `json:"prediction"`
	Confidence map[string]float64 `json:"confidence"`
}

// Classifier is the full inference path: preprocessing, backbone and head.
// It is safe for concurrent use when its extractor is.
type Classifier struct {
	ext       Extractor
	head      *Head
	classes   []string
	imageSize int
}

// NewClassifier pairs an extractor with a trained checkpoint.
func NewClassifier(ext Extractor, ckpt *Checkpoint) (*Classifier, error) {
	if ext.Dim() != ckpt.FeatureDim {
		return nil, fmt.Errorf("backbone produces %d features, checkpoint expects %d", ext.Dim(), ckpt.FeatureDim)
	}
	head, err := ckpt.Head()
	if err != nil {
		return nil, err
	}
	return &Classifier{
		ext:       ext,
		head:      head,
		classes:   ckpt.Classes,
		imageSize: ckpt.ImageSize,
	}, nil
}

// Load opens the configured backbone and checkpoint.
func Load(cfg *config.Config) (*Classifier, error) {
	ckpt, err := LoadCheckpoint(cfg.CheckpointPath())
	if err != nil {
		return nil, err
	}
	ext, err := NewONNXExtractor(cfg.Model)
	if err != nil {
		return nil, err
	}
	c, err := NewClassifier(ext, ckpt)
	if err != nil {
		ext.Close()
		return nil, err
	}
	return c, nil
}

// Classes returns the label names in index order.
func (c *Classifier) Classes() []string {
	return c.classes
}

// Predict classifies one decoded image. Confidences are rounded to four
// decimal places; the label is the arg-max of the unrounded probabilities.
func (c *Classifier) Predict(img image.Image) (*Prediction, error) {
	features, err := c.ext.Extract(Preprocess(img, c.imageSize))
	if err != nil {
		return nil, err
	}

	probs, err := c.head.Probabilities(features)
	if err != nil {
		return nil, err
	}
	confidence := make(map[string]float64, len(c.classes))
	for i, name := range c.classes {
		confidence[name] = math.Round(probs[i]*1e4) / 1e4
	}
	return &Prediction{
		Label:      c.classes[ArgMax(probs)],
		Confidence: confidence,
	}, nil
}

// Close releases the backbone.
func (c *Classifier) Close() error {
	return c.ext.Close()
}
