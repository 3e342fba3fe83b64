package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/TobiSchelling/legitcheck/internal/config"
)

// Extractor maps a preprocessed CHW image to a pooled feature vector.
type Extractor interface {
	Extract(input []float32) ([]float32, error)
	Dim() int
	Close() error
}

// ONNXExtractor runs the frozen convolutional backbone exported to ONNX.
// Input and output tensors are bound to the session once and reused, so
// calls are serialized.
type ONNXExtractor struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dim     int
}

// NewONNXExtractor loads the backbone described by cfg.
func NewONNXExtractor(cfg config.Model) (*ONNXExtractor, error) {
	if !ort.IsInitialized() {
		if cfg.SharedLibrary != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	size := int64(cfg.ImageSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.FeatureDim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Backbone,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", cfg.Backbone, err)
	}

	return &ONNXExtractor{
		session: session,
		input:   input,
		output:  output,
		dim:     cfg.FeatureDim,
	}, nil
}

// Extract runs one forward pass and returns a copy of the features.
func (e *ONNXExtractor) Extract(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := e.input.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(data), len(input))
	}
	copy(data, input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	features := make([]float32, e.dim)
	copy(features, e.output.GetData())
	return features, nil
}

// Dim returns the feature vector length.
func (e *ONNXExtractor) Dim() int {
	return e.dim
}

// Close releases the session, its tensors and the ONNX environment.
func (e *ONNXExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
	var err error
	if e.session != nil {
		err = e.session.Destroy()
	}
	ort.DestroyEnvironment()
	return err
}
