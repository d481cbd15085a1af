package nn

import (
	"fmt"
	"math/rand"

	loom "github.com/openfluke/loom/nn"
)

const defaultOutputActivation = "leaky_relu"

const (
	cellRNN  = "rnn"
	cellLSTM = "lstm"
)

// RNNBuilder builds stacked loom RNN layers followed by a dense output layer.
// Recognized options: "output_activation" (activation name of the dense head).
type RNNBuilder struct{}

func (RNNBuilder) Name() string {
	return cellRNN
}

func (RNNBuilder) BuildModel(layers []int, opts map[string]any) (Model, error) {
	return buildRecurrent(cellRNN, layers, opts)
}

func buildRecurrent(kind string, layers []int, opts map[string]any) (*Recurrent, error) {
	if len(layers) < 3 {
		return nil, fmt.Errorf("%s requires input, at least one hidden and an output layer, got %v", kind, layers)
	}
	for i, size := range layers {
		if size <= 0 {
			return nil, fmt.Errorf("layer %d must have a positive size, got %d", i, size)
		}
	}
	activationName := defaultOutputActivation
	if v, ok := opts["output_activation"].(string); ok && v != "" {
		activationName = v
	}
	activation, err := GetActivation(activationName)
	if err != nil {
		return nil, err
	}

	m := &Recurrent{
		kind:           kind,
		layers:         append([]int(nil), layers...),
		activationName: activationName,
		nets:           make(map[int]*loom.Network),
	}
	for i := 1; i < len(layers)-1; i++ {
		m.cells = append(m.cells, newCell(kind, layers[i-1], layers[i], 1))
	}
	m.output = loom.InitDenseLayer(layers[len(layers)-2], layers[len(layers)-1], activation)
	for _, w := range m.parameters() {
		clear(w)
	}
	return m, nil
}

func newCell(kind string, in, hidden, seqLength int) loom.LayerConfig {
	if kind == cellLSTM {
		return loom.InitLSTMLayer(in, hidden, 1, seqLength)
	}
	return loom.InitRNNLayer(in, hidden, 1, seqLength)
}

// cellWeights lists the trainable slices of a recurrent layer in a fixed order.
func cellWeights(kind string, cfg *loom.LayerConfig) []*[]float32 {
	if kind == cellLSTM {
		return []*[]float32{
			&cfg.WeightIH_i, &cfg.WeightIH_f, &cfg.WeightIH_g, &cfg.WeightIH_o,
			&cfg.WeightHH_i, &cfg.WeightHH_f, &cfg.WeightHH_g, &cfg.WeightHH_o,
			&cfg.BiasH_i, &cfg.BiasH_f, &cfg.BiasH_g, &cfg.BiasH_o,
		}
	}
	return []*[]float32{&cfg.WeightIH, &cfg.WeightHH, &cfg.BiasH}
}

// Recurrent is a loom network of stacked recurrent layers read out by a dense
// head on the last time step. Recurrent weights do not depend on the sequence
// length, so one model serves every look-back; a loom network is assembled per
// window length on first use. Not safe for concurrent use.
type Recurrent struct {
	kind           string
	layers         []int
	activationName string
	cells          []loom.LayerConfig
	output         loom.LayerConfig
	nets           map[int]*loom.Network
	head           *loom.Network
}

func (m *Recurrent) Layers() []int {
	return append([]int(nil), m.layers...)
}

func (m *Recurrent) Config() map[string]any {
	return map[string]any{
		"type":              m.kind,
		"layers":            m.Layers(),
		"output_activation": m.activationName,
		"parameters":        m.ParameterCount(),
	}
}

func (m *Recurrent) ParameterCount() int {
	total := 0
	for _, w := range m.parameters() {
		total += len(w)
	}
	return total
}

func (m *Recurrent) parameters() [][]float32 {
	var out [][]float32
	for i := range m.cells {
		for _, w := range cellWeights(m.kind, &m.cells[i]) {
			out = append(out, *w)
		}
	}
	return append(out, m.output.Kernel, m.output.Bias)
}

func (m *Recurrent) Reinitialize(rng *rand.Rand, initRange float64) {
	for _, w := range m.parameters() {
		for i := range w {
			w[i] = float32((rng.Float64()*2 - 1) * initRange)
		}
	}
	clear(m.nets)
	m.head = nil
}

// network returns the loom network for windows of seqLength steps, sharing
// the model's weight slices.
func (m *Recurrent) network(seqLength int) *loom.Network {
	if net, ok := m.nets[seqLength]; ok {
		return net
	}
	net := loom.NewNetwork(seqLength*m.layers[0], 1, 1, len(m.cells))
	net.BatchSize = 1
	for i := range m.cells {
		cfg := newCell(m.kind, m.layers[i], m.layers[i+1], seqLength)
		dst := cellWeights(m.kind, &cfg)
		for j, src := range cellWeights(m.kind, &m.cells[i]) {
			*dst[j] = *src
		}
		net.SetLayer(0, 0, i, cfg)
	}
	m.nets[seqLength] = net
	return net
}

func (m *Recurrent) outputHead() *loom.Network {
	if m.head == nil {
		m.head = loom.NewNetwork(m.layers[len(m.layers)-2], 1, 1, 1)
		m.head.BatchSize = 1
		m.head.SetLayer(0, 0, 0, m.output)
	}
	return m.head
}

func (m *Recurrent) Predict(window [][]float64) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("empty input window")
	}
	inputDim := m.layers[0]
	input := make([]float32, 0, len(window)*inputDim)
	for t, x := range window {
		if len(x) != inputDim {
			return nil, fmt.Errorf("step %d: input width %d, want %d", t, len(x), inputDim)
		}
		for _, v := range x {
			input = append(input, float32(v))
		}
	}

	sequence, _ := m.network(len(window)).ForwardCPU(input)
	hidden := m.layers[len(m.layers)-2]
	if len(sequence) < hidden {
		return nil, fmt.Errorf("recurrent output width %d, want at least %d", len(sequence), hidden)
	}
	last := sequence[len(sequence)-hidden:]

	raw, _ := m.outputHead().ForwardCPU(last)
	want := m.layers[len(m.layers)-1]
	if len(raw) != want {
		return nil, fmt.Errorf("output width %d, want %d", len(raw), want)
	}
	out := make([]float64, want)
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}
