package layers

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/tsawler/waterfall-net/tensor"
)

// NamedTensor pairs a registry key with its tensor.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Tensor
}

// Registry owns every trainable parameter and every non-trainable buffer
// of a model, keyed by layer-scoped name such as
// "backbone1_1conv/mlp1/weights". It also carries the shared training flag
// and the random source used for initialization and dropout.
type Registry struct {
	rng      *rand.Rand
	training bool

	params  []NamedTensor
	buffers []NamedTensor
	byName  map[string]*tensor.Tensor
	specs   []LayerSpec
}

// NewRegistry creates an empty registry seeded for deterministic
// initialization.
func NewRegistry(seed int64) *Registry {
	return &Registry{
		rng:      rand.New(rand.NewSource(seed)),
		training: true,
		byName:   make(map[string]*tensor.Tensor),
	}
}

// SetTraining switches every layer built on this registry between training
// and inference behavior.
func (r *Registry) SetTraining(training bool) {
	r.training = training
}

func (r *Registry) Training() bool {
	return r.training
}

// Rand returns the registry's random source.
func (r *Registry) Rand() *rand.Rand {
	return r.rng
}

func (r *Registry) register(name string, t *tensor.Tensor, buffer bool) error {
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("duplicate registry key %q", name)
	}
	r.byName[name] = t
	if buffer {
		r.buffers = append(r.buffers, NamedTensor{Name: name, Tensor: t})
	} else {
		r.params = append(r.params, NamedTensor{Name: name, Tensor: t})
	}
	return nil
}

// newParam creates a trainable Float32 tensor filled by init.
func (r *Registry) newParam(name string, shape []int, init func([]float32)) (*tensor.Tensor, error) {
	t, err := tensor.Zeros(shape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	if init != nil {
		init(t.Float32s())
	}
	t.SetRequiresGrad(true)
	if err := r.register(name, t, false); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Registry) newBuffer(name string, shape []int, fill float32) (*tensor.Tensor, error) {
	t, err := tensor.NewTensor(shape, tensor.Float32, fill)
	if err != nil {
		return nil, fmt.Errorf("buffer %s: %w", name, err)
	}
	if err := r.register(name, t, true); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *Registry) addSpec(spec LayerSpec) {
	r.specs = append(r.specs, spec)
}

// Parameters returns the trainable tensors in creation order.
func (r *Registry) Parameters() []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(r.params))
	for i, p := range r.params {
		out[i] = p.Tensor
	}
	return out
}

// NamedParameters returns the trainable tensors with their keys, in
// creation order.
func (r *Registry) NamedParameters() []NamedTensor {
	return append([]NamedTensor(nil), r.params...)
}

// NamedBuffers returns the non-trainable tensors with their keys.
func (r *Registry) NamedBuffers() []NamedTensor {
	return append([]NamedTensor(nil), r.buffers...)
}

// Lookup returns the parameter or buffer registered under name.
func (r *Registry) Lookup(name string) (*tensor.Tensor, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// NumParameters counts trainable scalars.
func (r *Registry) NumParameters() int64 {
	var n int64
	for _, p := range r.params {
		n += int64(p.Tensor.NumElems)
	}
	return n
}

// ZeroGrad clears the gradient of every parameter.
func (r *Registry) ZeroGrad() {
	tensor.ZeroGrad(r.Parameters())
}

// Spec describes the registered layers, including a copy of the current
// running statistics of each normalization layer.
func (r *Registry) Spec() *ModelSpec {
	ms := &ModelSpec{Layers: make([]LayerSpec, len(r.specs)), TotalParameters: r.NumParameters()}
	for i, s := range r.specs {
		if s.Type == BatchNorm {
			stats := make(map[string][]float32, 2)
			for _, key := range []string{"moving_mean", "moving_variance"} {
				if t, ok := r.byName[s.Name+"/"+key]; ok {
					stats[key] = append([]float32(nil), t.Float32s()...)
				}
			}
			s.RunningStatistics = stats
		}
		ms.Layers[i] = s
	}
	return ms
}

// Restore replaces every parameter and buffer value with the given
// snapshot. The snapshot must name exactly the registered keys with
// matching shapes; nothing is modified when it does not.
func (r *Registry) Restore(params, buffers []NamedTensor) error {
	if err := r.checkSnapshot("parameter", r.params, params); err != nil {
		return err
	}
	if err := r.checkSnapshot("buffer", r.buffers, buffers); err != nil {
		return err
	}
	for _, group := range [][]NamedTensor{params, buffers} {
		for _, src := range group {
			dst := r.byName[src.Name]
			copy(dst.Float32s(), src.Tensor.Float32s())
		}
	}
	return nil
}

func (r *Registry) checkSnapshot(kind string, registered, snapshot []NamedTensor) error {
	seen := make(map[string]bool, len(snapshot))
	for _, s := range snapshot {
		if seen[s.Name] {
			return fmt.Errorf("restore: %s %q appears twice", kind, s.Name)
		}
		seen[s.Name] = true
	}
	var missing []string
	for _, p := range registered {
		if !seen[p.Name] {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("restore: %d %ss missing from snapshot, first %q", len(missing), kind, missing[0])
	}
	if len(snapshot) != len(registered) {
		return fmt.Errorf("restore: snapshot has %d %ss, model has %d", len(snapshot), kind, len(registered))
	}
	for _, s := range snapshot {
		dst := r.byName[s.Name]
		if s.Tensor == nil || s.Tensor.DType != tensor.Float32 {
			return fmt.Errorf("restore: %s %q is not a Float32 tensor", kind, s.Name)
		}
		if fmt.Sprint(dst.Shape) != fmt.Sprint(s.Tensor.Shape) {
			return fmt.Errorf("restore: %s %q has shape %v, model expects %v", kind, s.Name, s.Tensor.Shape, dst.Shape)
		}
	}
	return nil
}
