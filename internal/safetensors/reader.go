package safetensors

import (
	"errors"
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// firstTensor returns the first tensor in name order.
func firstTensor(store *Store) (*Tensor, error) {
	names := store.Names()
	if len(names) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	return store.Tensor(names[0])
}

// MelTensorName is the tensor name used for mel spectrogram files.
const MelTensorName = "mel"

// LoadMel loads a mel spectrogram laid out as [n_mels, T] or [B, n_mels, T]
// and returns it as [B, n_mels, T]. The tensor named "mel" is preferred;
// otherwise the first tensor is used.
func LoadMel(path string) (*Tensor, error) {
	store, err := OpenStore(path, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var mel *Tensor
	if store.Has(MelTensorName) {
		mel, err = store.Tensor(MelTensorName)
	} else {
		mel, err = firstTensor(store)
	}

	if err != nil {
		return nil, err
	}

	return normalizeMelShape(mel)
}

func normalizeMelShape(mel *Tensor) (*Tensor, error) {
	switch len(mel.Shape) {
	case 2:
		mel.Shape = []int64{1, mel.Shape[0], mel.Shape[1]}
		return mel, nil
	case 3:
		return mel, nil
	default:
		return nil, fmt.Errorf("safetensors: mel %q has %dD shape %v, expected 2D or 3D", mel.Name, len(mel.Shape), mel.Shape)
	}
}

// WriteMel writes a [B, n_mels, T] spectrogram under MelTensorName.
func WriteMel(path string, data []float32, shape []int64, opts EncodeOptions) error {
	if len(shape) != 3 {
		return fmt.Errorf("safetensors: mel shape %v must be [B, n_mels, T]", shape)
	}

	return WriteFileWith(path, []Tensor{{Name: MelTensorName, Shape: shape, Data: data}}, opts)
}
