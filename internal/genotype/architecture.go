package genotype

// ArchitectureKey names the encoding that carries [look_back, n1, ..., nk].
const ArchitectureKey = "architecture"

// Architecture is the tagged view of the architecture encoding.
type Architecture struct {
	LookBack int
	Layers   []int
}

// ArchitectureOf reads the tagged view from a flat encoding. An empty encoding
// yields a zero look-back and no layers.
func ArchitectureOf(encoded []int) Architecture {
	if len(encoded) == 0 {
		return Architecture{}
	}
	return Architecture{
		LookBack: encoded[0],
		Layers:   append([]int{}, encoded[1:]...),
	}
}

// Encode flattens the architecture back to [look_back, n1, ..., nk].
func (a Architecture) Encode() []int {
	out := make([]int, 0, len(a.Layers)+1)
	out = append(out, a.LookBack)
	return append(out, a.Layers...)
}

// LayerSizes returns [inputDim] + hidden layers + [outputDim].
func (a Architecture) LayerSizes(inputDim, outputDim int) []int {
	out := make([]int, 0, len(a.Layers)+2)
	out = append(out, inputDim)
	out = append(out, a.Layers...)
	return append(out, outputDim)
}
