// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

const (
	onnxInputIDs        = "input_ids"
	onnxAttentionMask   = "attention_mask"
	onnxLastHiddenState = "last_hidden_state"

	// clsPosition is the summarization token whose final hidden state is the embedding.
	clsPosition = 0

	padTokenID = 0
)

// ONNXModel runs a BERT-family encoder exported to ONNX and returns the final
// hidden state at the [CLS] position for each text.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
	tk      *tokenizer.Tokenizer
	maxLen  int
	hidden  int
}

// NewONNXModel loads the tokenizer and creates an inference session. The
// onnxruntime environment is initialized once per process.
func NewONNXModel(cfg types.EmbeddingConfig) (*ONNXModel, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("onnx backend requires model_path and tokenizer_path")
	}
	def := types.DefaultConfig().Embedding
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = def.MaxSeqLen
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = def.HiddenSize
	}

	if !ort.IsInitialized() {
		if cfg.ORTLibrary != "" {
			ort.SetSharedLibraryPath(cfg.ORTLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing onnxruntime: %w", err)
		}
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{onnxInputIDs, onnxAttentionMask},
		[]string{onnxLastHiddenState},
		nil)
	if err != nil {
		return nil, fmt.Errorf("creating onnx session for %s: %w", cfg.ModelPath, err)
	}

	return &ONNXModel{
		session: session,
		tk:      tk,
		maxLen:  cfg.MaxSeqLen,
		hidden:  cfg.HiddenSize,
	}, nil
}

// Close destroys the inference session.
func (m *ONNXModel) Close() error {
	if m == nil || m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// EncodeBatch tokenizes texts with padding to the longest sequence and
// truncation at maxLen, runs the encoder, and slices out the [CLS] rows.
func (m *ONNXModel) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if m.session == nil {
		return nil, errors.New("onnx model is closed")
	}

	encoded := make([][]int, len(texts))
	seqLen := 0
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enc, err := m.tk.EncodeSingle(text, true)
		if err != nil {
			return nil, fmt.Errorf("tokenizing text %d: %w", i, err)
		}
		encoded[i] = truncateIDs(enc.Ids, m.maxLen)
		seqLen = max(seqLen, len(encoded[i]))
	}
	if seqLen == 0 {
		return nil, errors.New("tokenizer produced empty sequences")
	}

	ids, mask := padBatch(encoded, seqLen)
	batch := int64(len(texts))
	shape := ort.NewShape(batch, int64(seqLen))

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, int64(seqLen), int64(m.hidden)))
	if err != nil {
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{idsTensor, maskTensor}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("running encoder: %w", err)
	}

	return clsRows(out.GetData(), len(texts), seqLen, m.hidden), nil
}

// truncateIDs keeps at most maxLen tokens, preserving the trailing special token.
func truncateIDs(ids []int, maxLen int) []int {
	if len(ids) <= maxLen || maxLen < 2 {
		return ids
	}
	out := make([]int, 0, maxLen)
	out = append(out, ids[:maxLen-1]...)
	return append(out, ids[len(ids)-1])
}

// padBatch lays sequences out row-major with padTokenID and a zero mask past each end.
func padBatch(seqs [][]int, seqLen int) (ids, mask []int64) {
	ids = make([]int64, len(seqs)*seqLen)
	mask = make([]int64, len(seqs)*seqLen)
	for i, seq := range seqs {
		row := i * seqLen
		for j := 0; j < seqLen; j++ {
			if j < len(seq) {
				ids[row+j] = int64(seq[j])
				mask[row+j] = 1
			} else {
				ids[row+j] = padTokenID
			}
		}
	}
	return ids, mask
}

// clsRows copies the hidden state at clsPosition for each sequence out of a
// (batch, seqLen, hidden) row-major buffer.
func clsRows(data []float32, batch, seqLen, hidden int) [][]float32 {
	rows := make([][]float32, batch)
	for i := range rows {
		off := (i*seqLen + clsPosition) * hidden
		row := make([]float32, hidden)
		copy(row, data[off:off+hidden])
		rows[i] = row
	}
	return rows
}
