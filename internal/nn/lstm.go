package nn

// LSTMBuilder builds stacked loom LSTM layers followed by a dense output
// layer. It accepts the same options as RNNBuilder.
type LSTMBuilder struct{}

func (LSTMBuilder) Name() string {
	return cellLSTM
}

func (LSTMBuilder) BuildModel(layers []int, opts map[string]any) (Model, error) {
	return buildRecurrent(cellLSTM, layers, opts)
}
