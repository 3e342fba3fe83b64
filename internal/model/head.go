package model

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
)

// headScope holds the dense layer's variables. Optimizer and RNG state
// live outside it.
const headScope = "head"

// backendName selects the pure Go backend, so the head needs no native
// libraries beyond the ONNX runtime used by the backbone.
const backendName = "go"

// Head is the trainable classifier on top of the frozen backbone:
// dropout followed by a dense layer. Graphs, gradients and the Adam
// update are built by gomlx.
type Head struct {
	In      int
	Out     int
	Dropout float64

	mu        sync.Mutex
	ctx       *context.Context
	infer     *context.Exec
	evalStep  *context.Exec
	trainStep *context.Exec
}

// NewHead builds a head with freshly initialized parameters. A positive
// learningRate enables TrainBatch with Adam; inference heads pass 0.
func NewHead(in, out int, dropout, learningRate float64, seed int64) (*Head, error) {
	h := &Head{In: in, Out: out, Dropout: dropout}
	err := exceptions.TryCatch[error](func() {
		backend := backends.NewWithConfig(backendName)
		h.ctx = context.New().Checked(false)
		h.ctx.RngStateFromSeed(seed)

		h.infer = context.NewExec(backend, h.ctx, func(ctx *context.Context, x *graph.Node) *graph.Node {
			return graph.Softmax(h.logits(ctx, x))
		})
		h.evalStep = context.NewExec(backend, h.ctx, func(ctx *context.Context, x, labels *graph.Node) (*graph.Node, *graph.Node) {
			logits := h.logits(ctx, x)
			return meanLoss(labels, logits), logits
		})
		if learningRate > 0 {
			opt := optimizers.Adam().LearningRate(learningRate).Done()
			h.trainStep = context.NewExec(backend, h.ctx, func(ctx *context.Context, x, labels *graph.Node) (*graph.Node, *graph.Node) {
				g := x.Graph()
				ctx.SetTraining(g, true)
				logits := h.logits(ctx, x)
				loss := meanLoss(labels, logits)
				opt.UpdateGraph(ctx, g, loss)
				return loss, logits
			})
		}

		// Variables are created by the first graph build.
		h.infer.Call(tensors.FromValue([][]float32{make([]float32, in)}))
	})
	if err != nil {
		return nil, fmt.Errorf("building classifier head: %w", err)
	}
	return h, nil
}

func (h *Head) logits(ctx *context.Context, x *graph.Node) *graph.Node {
	ctx = ctx.In(headScope)
	if h.Dropout > 0 {
		x = layers.DropoutStatic(ctx, x, h.Dropout)
	}
	return layers.Dense(ctx, x, true, h.Out)
}

// meanLoss is the batch mean of the softmax cross-entropy. labels are
// class indices shaped [batch, 1].
func meanLoss(labels, logits *graph.Node) *graph.Node {
	return graph.ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits(
		[]*graph.Node{labels}, []*graph.Node{logits}))
}

// Probabilities returns the softmax class probabilities for one feature
// vector, without dropout.
func (h *Head) Probabilities(x []float32) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var probs []float64
	err := exceptions.TryCatch[error](func() {
		out := h.infer.Call(tensors.FromValue([][]float32{x}))
		probs = widen(out[0].Value().([][]float32)[0])
	})
	if err != nil {
		return nil, fmt.Errorf("running classifier head: %w", err)
	}
	return probs, nil
}

// TrainBatch runs one Adam step on a batch with dropout active and
// returns the mean cross-entropy loss and the arg-max predictions made
// before the update.
func (h *Head) TrainBatch(xs [][]float32, labels []int) (float64, []int, error) {
	if h.trainStep == nil {
		return 0, nil, fmt.Errorf("classifier head was built without a learning rate")
	}
	return h.step(h.trainStep, xs, labels)
}

// EvalBatch returns the mean cross-entropy loss and predictions of a batch
// without dropout or updates.
func (h *Head) EvalBatch(xs [][]float32, labels []int) (float64, []int, error) {
	return h.step(h.evalStep, xs, labels)
}

func (h *Head) step(exec *context.Exec, xs [][]float32, labels []int) (float64, []int, error) {
	column := make([][]int32, len(labels))
	for i, l := range labels {
		column[i] = []int32{int32(l)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var loss float64
	var preds []int
	err := exceptions.TryCatch[error](func() {
		out := exec.Call(tensors.FromValue(xs), tensors.FromValue(column))
		loss = float64(out[0].Value().(float32))
		for _, row := range out[1].Value().([][]float32) {
			preds = append(preds, ArgMax(widen(row)))
		}
	})
	if err != nil {
		return 0, nil, fmt.Errorf("running classifier head: %w", err)
	}
	return loss, preds, nil
}

// Parameters returns a copy of the dense layer as an Out×In weight matrix
// and an Out-long bias.
func (h *Head) Parameters() ([][]float64, []float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, b, err := h.variables()
	if err != nil {
		return nil, nil, err
	}
	columns := w.Value().Value().([][]float32) // In×Out
	weight := make([][]float64, h.Out)
	for o := range weight {
		weight[o] = make([]float64, h.In)
		for i := range weight[o] {
			weight[o][i] = float64(columns[i][o])
		}
	}
	return weight, widen(b.Value().Value().([]float32)), nil
}

// SetParameters replaces the dense layer with an Out×In weight matrix and
// an Out-long bias.
func (h *Head) SetParameters(weight [][]float64, bias []float64) error {
	if len(weight) != h.Out || len(bias) != h.Out {
		return fmt.Errorf("head has %d outputs, got %d weight rows and %d biases", h.Out, len(weight), len(bias))
	}
	columns := make([][]float32, h.In)
	for i := range columns {
		columns[i] = make([]float32, h.Out)
	}
	for o, row := range weight {
		if len(row) != h.In {
			return fmt.Errorf("weight row %d has %d values, expected %d", o, len(row), h.In)
		}
		for i, v := range row {
			columns[i][o] = float32(v)
		}
	}
	b := make([]float32, len(bias))
	for i, v := range bias {
		b[i] = float32(v)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	wVar, bVar, err := h.variables()
	if err != nil {
		return err
	}
	wVar.SetValue(tensors.FromValue(columns))
	bVar.SetValue(tensors.FromValue(b))
	return nil
}

// variables finds the dense weight and bias by shape under the head scope.
func (h *Head) variables() (weight, bias *context.Variable, err error) {
	prefix := context.ScopeSeparator + headScope
	h.ctx.EnumerateVariables(func(v *context.Variable) {
		if !strings.HasPrefix(v.Scope(), prefix) {
			return
		}
		dims := v.Shape().Dimensions
		switch {
		case len(dims) == 2 && dims[0] == h.In && dims[1] == h.Out:
			weight = v
		case len(dims) == 1 && dims[0] == h.Out:
			bias = v
		}
	})
	if weight == nil || bias == nil {
		return nil, nil, fmt.Errorf("classifier head has no dense parameters")
	}
	return weight, bias, nil
}

func widen(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// ArgMax returns the index of the largest value, the first on ties.
func ArgMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
