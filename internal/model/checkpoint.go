package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Classes are the label names in index order (alphabetical, as the
// dataset folders sort).
var Classes = []string{"Fake", "Real"}

// Checkpoint is a serialized head plus what is needed to use it.
type Checkpoint struct {
	Classes    []string    `json:"classes"`
	ImageSize  int         `json:"image_size"`
	FeatureDim int         `json:"feature_dim"`
	Dropout    float64     `json:"dropout"`
	Epoch      int         `json:"epoch"`
	ValLoss    float64     `json:"val_loss"`
	Weight     [][]float64 `json:"weight"`
	Bias       []float64   `json:"bias"`
}

// NewCheckpoint snapshots h.
func NewCheckpoint(h *Head, imageSize, epoch int, valLoss float64) (*Checkpoint, error) {
	weight, bias, err := h.Parameters()
	if err != nil {
		return nil, err
	}
	return &Checkpoint{
		Classes:    slices.Clone(Classes),
		ImageSize:  imageSize,
		FeatureDim: h.In,
		Dropout:    h.Dropout,
		Epoch:      epoch,
		ValLoss:    valLoss,
		Weight:     weight,
		Bias:       bias,
	}, nil
}

// Head rebuilds the stored head for inference.
func (c *Checkpoint) Head() (*Head, error) {
	h, err := NewHead(c.FeatureDim, len(c.Classes), c.Dropout, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := h.SetParameters(c.Weight, c.Bias); err != nil {
		return nil, fmt.Errorf("loading checkpoint parameters: %w", err)
	}
	return h, nil
}

func (c *Checkpoint) validate() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("checkpoint has no classes")
	}
	if len(c.Weight) != len(c.Classes) || len(c.Bias) != len(c.Classes) {
		return fmt.Errorf("checkpoint has %d classes but %d weight rows and %d biases",
			len(c.Classes), len(c.Weight), len(c.Bias))
	}
	for i, row := range c.Weight {
		if len(row) != c.FeatureDim {
			return fmt.Errorf("checkpoint weight row %d has %d values, expected %d", i, len(row), c.FeatureDim)
		}
	}
	return nil
}

// SaveCheckpoint writes c to path, replacing any previous file atomically.
func SaveCheckpoint(path string, c *Checkpoint) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates a checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
