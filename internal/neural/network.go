// Package neural is a small dense feed-forward network runtime. Networks are
// evaluated layer by layer with gonum and serialized with gob.
package neural

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type Activation string

const (
	Identity Activation = "identity"
	ReLU     Activation = "relu"
	Sigmoid  Activation = "sigmoid"
	Tanh     Activation = "tanh"
	Softmax  Activation = "softmax"
)

// Layer is a fully connected layer. Weights are stored row-major with one
// row per output unit.
type Layer struct {
	Name       string
	In         int
	Out        int
	Weights    []float64
	Bias       []float64
	Activation Activation
}

type Network struct {
	Name string
	// InputShape is height, width and channels for image networks, or a
	// single length for vector inputs.
	InputShape []int
	Layers     []Layer
}

// New builds a network with randomly initialized layers of the given sizes.
// sizes[0] is the input length.
func New(name string, sizes []int, hidden, output Activation, seed int64) (*Network, error) {
	if len(sizes) < 2 {
		return nil, errors.Errorf("network needs at least an input and an output size, got %v", sizes)
	}
	r := rand.New(rand.NewSource(seed))
	n := &Network{Name: name, InputShape: []int{sizes[0]}}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		if in <= 0 || out <= 0 {
			return nil, errors.Errorf("layer %d has non-positive size %dx%d", i, in, out)
		}
		act := hidden
		if i == len(sizes)-1 {
			act = output
		}
		scale := math.Sqrt(2 / float64(in+out))
		w := make([]float64, in*out)
		for j := range w {
			w[j] = r.NormFloat64() * scale
		}
		n.Layers = append(n.Layers, Layer{
			Name:       layerName(i),
			In:         in,
			Out:        out,
			Weights:    w,
			Bias:       make([]float64, out),
			Activation: act,
		})
	}
	return n, nil
}

func layerName(i int) string {
	return fmt.Sprintf("dense_%d", i)
}

func (n *Network) InputSize() int {
	size := 1
	for _, d := range n.InputShape {
		size *= d
	}
	return size
}

func (n *Network) OutputSize() int {
	if len(n.Layers) == 0 {
		return n.InputSize()
	}
	return n.Layers[len(n.Layers)-1].Out
}

// LayerNames lists layer names from the output side: index 0 is the final layer.
func (n *Network) LayerNames() []string {
	names := make([]string, len(n.Layers))
	for i, l := range n.Layers {
		names[len(n.Layers)-1-i] = l.Name
	}
	return names
}

func (n *Network) Validate() error {
	if len(n.Layers) == 0 {
		return errors.Errorf("network %q has no layers", n.Name)
	}
	prev := n.InputSize()
	for i, l := range n.Layers {
		if l.In != prev {
			return errors.Errorf("layer %d (%s) expects %d inputs but receives %d", i, l.Name, l.In, prev)
		}
		if len(l.Weights) != l.In*l.Out || len(l.Bias) != l.Out {
			return errors.Errorf("layer %d (%s) has malformed parameters", i, l.Name)
		}
		prev = l.Out
	}
	return nil
}

// Truncate returns a copy of the network without its last cut layers. Layer
// parameters are shared with the receiver.
func (n *Network) Truncate(cut int) (*Network, error) {
	if cut < 0 || cut >= len(n.Layers) {
		return nil, errors.Errorf("cannot cut %d output layers from a network with %d layers", cut, len(n.Layers))
	}
	return &Network{
		Name:       n.Name,
		InputShape: append([]int(nil), n.InputShape...),
		Layers:     n.Layers[:len(n.Layers)-cut],
	}, nil
}

func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(x) != n.InputSize() {
		return nil, errors.Errorf("network %q expects %d inputs, got %d", n.Name, n.InputSize(), len(x))
	}
	acts := n.activations(x)
	return acts[len(acts)-1], nil
}

// activations returns the input followed by every layer's output.
func (n *Network) activations(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(n.Layers)+1)
	acts = append(acts, x)
	cur := mat.NewVecDense(len(x), append([]float64(nil), x...))
	for _, l := range n.Layers {
		W := mat.NewDense(l.Out, l.In, l.Weights)
		next := mat.NewVecDense(l.Out, nil)
		next.MulVec(W, cur)
		next.AddVec(next, mat.NewVecDense(l.Out, l.Bias))
		out := activate(l.Activation, next.RawVector().Data)
		acts = append(acts, out)
		cur = mat.NewVecDense(len(out), out)
	}
	return acts
}

func activate(a Activation, z []float64) []float64 {
	out := make([]float64, len(z))
	switch a {
	case ReLU:
		for i, v := range z {
			out[i] = math.Max(0, v)
		}
	case Sigmoid:
		for i, v := range z {
			out[i] = 1 / (1 + math.Exp(-v))
		}
	case Tanh:
		for i, v := range z {
			out[i] = math.Tanh(v)
		}
	case Softmax:
		maxZ := math.Inf(-1)
		for _, v := range z {
			maxZ = math.Max(maxZ, v)
		}
		sum := 0.0
		for i, v := range z {
			out[i] = math.Exp(v - maxZ)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	default:
		copy(out, z)
	}
	return out
}

// derivative of the activation expressed through its output y.
func derivative(a Activation, y float64) float64 {
	switch a {
	case ReLU:
		if y > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		return y * (1 - y)
	case Tanh:
		return 1 - y*y
	}
	return 1
}

func Encode(w io.Writer, n *Network) error {
	return errors.Wrap(gob.NewEncoder(w).Encode(n), "failed to encode network")
}

func Decode(r io.Reader) (*Network, error) {
	var n Network
	if err := gob.NewDecoder(r).Decode(&n); err != nil {
		return nil, errors.Wrap(err, "failed to decode network")
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}
