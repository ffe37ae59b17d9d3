package melnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
	"github.com/example/go-melnet-tts/internal/safetensors"
)

// Init fills freshly created parameter data.
type Init func(rng *rand.Rand, data []float32)

// Uniform draws from U(-bound, bound), the default PyTorch scheme for linear
// and recurrent layers with bound = 1/sqrt(fan).
func Uniform(bound float64) Init {
	return func(rng *rand.Rand, data []float32) {
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
}

// Normal draws from N(0, std^2), used for embeddings.
func Normal(std float64) Init {
	return func(rng *rand.Rand, data []float32) {
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	}
}

func fanBound(fan int64) float64 {
	if fan <= 0 {
		return 0
	}

	return 1 / math.Sqrt(float64(fan))
}

// VarMap owns parameters created by random initialisation so they can be
// saved as a checkpoint afterwards.
type VarMap struct {
	mu   sync.Mutex
	rng  *rand.Rand
	vars map[string]*tensor.Tensor
}

func NewVarMap(seed int64) *VarMap {
	return &VarMap{
		rng:  rand.New(rand.NewSource(seed)),
		vars: make(map[string]*tensor.Tensor),
	}
}

func (m *VarMap) getOrCreate(name string, shape []int64, init Init) (*tensor.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.vars[name]; ok {
		if !equalShape(t.Shape(), shape) {
			return nil, fmt.Errorf("melnet varmap: %q already has shape %v, requested %v", name, t.Shape(), shape)
		}

		return t, nil
	}

	t, err := tensor.Zeros(shape)
	if err != nil {
		return nil, fmt.Errorf("melnet varmap: %q: %w", name, err)
	}

	if init != nil {
		init(m.rng, t.RawData())
	}

	m.vars[name] = t

	return t, nil
}

// Names returns parameter names in sorted order.
func (m *VarMap) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.vars))
	for name := range m.vars {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Tensors returns all parameters in safetensors form, sorted by name.
func (m *VarMap) Tensors() []safetensors.Tensor {
	names := m.Names()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]safetensors.Tensor, 0, len(names))
	for _, name := range names {
		t := m.vars[name]
		out = append(out, safetensors.Tensor{Name: name, Shape: t.Shape(), Data: t.Data()})
	}

	return out
}

// Save writes all parameters to a safetensors checkpoint.
func (m *VarMap) Save(path string, opts safetensors.EncodeOptions) error {
	if err := safetensors.WriteFileWith(path, m.Tensors(), opts); err != nil {
		return fmt.Errorf("melnet varmap: save: %w", err)
	}

	return nil
}

// VarBuilder provides hierarchical parameter lookup. It is backed either by a
// safetensors store (loading) or by a VarMap (random initialisation).
type VarBuilder struct {
	store  *safetensors.Store
	vars   *VarMap
	prefix string
}

func OpenVarBuilder(path string, opts safetensors.StoreOptions) (*VarBuilder, error) {
	store, err := safetensors.OpenStore(path, opts)
	if err != nil {
		return nil, err
	}

	return &VarBuilder{store: store}, nil
}

// NewInitVarBuilder returns a builder that creates parameters in vars.
func NewInitVarBuilder(vars *VarMap) *VarBuilder {
	return &VarBuilder{vars: vars}
}

// Close releases the backing store, if any.
func (vb *VarBuilder) Close() {
	if vb != nil && vb.store != nil {
		vb.store.Close()
	}
}

func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	if vb == nil {
		return nil
	}

	prefix := vb.prefix

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if prefix == "" {
			prefix = part
		} else {
			prefix += "." + part
		}
	}

	return &VarBuilder{store: vb.store, vars: vb.vars, prefix: prefix}
}

// Has reports whether name resolves to a loadable parameter. A VarMap-backed
// builder can create any parameter, so it always reports true.
func (vb *VarBuilder) Has(name string) bool {
	if vb == nil {
		return false
	}

	if vb.vars != nil {
		return true
	}

	return vb.store != nil && vb.store.Has(vb.resolve(name))
}

// Tensor loads name from the store, optionally checking its shape.
func (vb *VarBuilder) Tensor(name string, wantShape ...int64) (*tensor.Tensor, error) {
	if vb == nil || vb.store == nil {
		return nil, errors.New("melnet varbuilder: uninitialized store")
	}

	fullName := vb.resolve(name)

	var (
		st  *safetensors.Tensor
		err error
	)

	if len(wantShape) > 0 {
		st, err = vb.store.TensorWithShape(fullName, wantShape)
	} else {
		st, err = vb.store.Tensor(fullName)
	}

	if err != nil {
		return nil, err
	}

	t, err := tensor.FromOwned(st.Data, st.Shape)
	if err != nil {
		return nil, fmt.Errorf("melnet varbuilder: tensor %q: %w", fullName, err)
	}

	return t, nil
}

// Get loads name with the given shape, or creates it with init when the
// builder is backed by a VarMap.
func (vb *VarBuilder) Get(name string, init Init, shape ...int64) (*tensor.Tensor, error) {
	if vb == nil {
		return nil, errors.New("melnet varbuilder: nil builder")
	}

	if vb.vars != nil {
		if len(shape) == 0 {
			return nil, fmt.Errorf("melnet varbuilder: creating %q needs a shape", vb.resolve(name))
		}

		return vb.vars.getOrCreate(vb.resolve(name), shape, init)
	}

	return vb.Tensor(name, shape...)
}

func (vb *VarBuilder) resolve(name string) string {
	name = strings.TrimSpace(name)
	if vb == nil || vb.prefix == "" {
		return name
	}

	if name == "" {
		return vb.prefix
	}

	return vb.prefix + "." + name
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
