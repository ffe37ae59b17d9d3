package melnet

import (
	"errors"
	"fmt"

	"github.com/example/go-melnet-tts/internal/runtime/tensor"
)

// TextEncoder embeds symbol ids and runs a bidirectional LSTM over each row's
// true length. Outputs past a row's length are zero.
type TextEncoder struct {
	embedding *Embedding
	lstm      *RNN
	hidden    int64
}

func loadTextEncoder(vb *VarBuilder, symbols int, hidden int64) (*TextEncoder, error) {
	if hidden%2 != 0 {
		return nil, fmt.Errorf("melnet: encoder hidden size must be even, got %d", hidden)
	}

	emb, err := loadEmbedding(vb, "embedding_text", int64(symbols), hidden)
	if err != nil {
		return nil, fmt.Errorf("melnet: encoder embedding: %w", err)
	}

	lstm, err := loadRNN(vb.Path("text_lstm"), lstmCell, hidden, hidden/2, true)
	if err != nil {
		return nil, fmt.Errorf("melnet: encoder lstm: %w", err)
	}

	return &TextEncoder{embedding: emb, lstm: lstm, hidden: hidden}, nil
}

// Forward maps padded ids [B][T_text] to memory [B, T_text, H].
func (e *TextEncoder) Forward(ids [][]int, lengths []int) (*tensor.Tensor, error) {
	if e == nil {
		return nil, errors.New("melnet: encoder is not initialized")
	}

	if len(lengths) != len(ids) {
		return nil, fmt.Errorf("melnet: encoder got %d lengths for %d rows", len(lengths), len(ids))
	}

	x, err := e.embedding.Forward(ids)
	if err != nil {
		return nil, err
	}

	memory, err := e.lstm.Forward(x, lengths)
	if err != nil {
		return nil, fmt.Errorf("melnet: encoder: %w", err)
	}

	return memory, nil
}
