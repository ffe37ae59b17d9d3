package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// EncodeOptions controls how tensors are serialized.
type EncodeOptions struct {
	// DType is the on-disk element type; empty means F32.
	DType string
	// Metadata is written to the __metadata__ header entry when non-empty.
	Metadata map[string]string
}

// EncodeTensorsWith serializes tensors using opts.
func EncodeTensorsWith(tensors []Tensor, opts EncodeOptions) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	dtype := strings.ToUpper(opts.DType)
	if dtype == "" {
		dtype = DTypeF32
	}

	elemBytes, err := dtypeBytes(dtype)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode: %w", err)
	}

	sorted := make([]Tensor, len(tensors))
	copy(sorted, tensors)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	header := make(map[string]any, len(sorted)+1)
	raw := make([]byte, 0, estimateTensorBytes(sorted, elemBytes))

	for _, tensor := range sorted {
		name := strings.TrimSpace(tensor.Name)
		if name == "" {
			return nil, errors.New("safetensors: tensor name must not be empty")
		}

		if name == metadataKey {
			return nil, fmt.Errorf("safetensors: tensor name %q is reserved", name)
		}

		if _, exists := header[name]; exists {
			return nil, fmt.Errorf("safetensors: duplicate tensor name %q", name)
		}

		elemCount, err := shapeElementCount(tensor.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		if int64(len(tensor.Data)) != elemCount {
			return nil, fmt.Errorf(
				"safetensors: tensor %q shape %v expects %d elements, got %d",
				name,
				tensor.Shape,
				elemCount,
				len(tensor.Data),
			)
		}

		start := len(raw)
		raw = appendEncoded(raw, tensor.Data, dtype)
		end := len(raw)

		header[name] = storeHeaderEntry{
			DType:   dtype,
			Shape:   append([]int64(nil), tensor.Shape...),
			Offsets: [2]int{start, end},
		}
	}

	if len(opts.Metadata) > 0 {
		header[metadataKey] = opts.Metadata
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(raw))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)
	out = append(out, raw...)

	return out, nil
}

func appendEncoded(raw []byte, data []float32, dtype string) []byte {
	switch dtype {
	case DTypeF16:
		for _, v := range data {
			raw = binary.LittleEndian.AppendUint16(raw, float16.Fromfloat32(v).Bits())
		}

		return raw
	case DTypeBF16:
		return append(raw, bfloat16.EncodeFloat32(data)...)
	default:
		for _, v := range data {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
		}

		return raw
	}
}

// WriteFile writes float32 tensors into a .safetensors file.
func WriteFile(path string, tensors []Tensor) error {
	return WriteFileWith(path, tensors, EncodeOptions{})
}

// WriteFileWith writes tensors into a .safetensors file using opts.
func WriteFileWith(path string, tensors []Tensor, opts EncodeOptions) error {
	data, err := EncodeTensorsWith(tensors, opts)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	return nil
}

func estimateTensorBytes(tensors []Tensor, elemBytes int) int {
	total := 0
	for _, tensor := range tensors {
		total += len(tensor.Data) * elemBytes
	}

	return total
}
