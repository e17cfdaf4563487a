package processor

import (
	"fmt"

	onnxruntime "github.com/yalue/onnxruntime_go"
)

// Encoding is the model-ready output of one encode call. Extra carries
// whatever the image processor contributed (pixel values, image embeddings)
// under its own keys.
type Encoding struct {
	InputIDs          [][]int64      `json:"input_ids"`
	AttentionMask     [][]int64      `json:"attention_mask"`
	ImageFeaturesMask [][]bool       `json:"image_features_mask,omitempty"`
	Extra             map[string]any `json:"-"`

	// ONNX holds the materialized tensors when the caller asked for the
	// onnx return type. The caller owns them and must Destroy them.
	ONNX *EncodingTensors `json:"-"`
}

// Map flattens the encoding into a key/value view, merging the image
// processor's contributions with the text-side arrays.
func (e *Encoding) Map() map[string]any {
	out := make(map[string]any, len(e.Extra)+3)
	for key, value := range e.Extra {
		out[key] = value
	}
	out["input_ids"] = e.InputIDs
	out["attention_mask"] = e.AttentionMask
	if e.ImageFeaturesMask != nil {
		out["image_features_mask"] = e.ImageFeaturesMask
	}
	return out
}

// EncodingTensors is the ONNX Runtime materialization of an encoding. The
// caller owns the tensors and must Destroy them.
type EncodingTensors struct {
	InputIDs          *onnxruntime.Tensor[int64]
	AttentionMask     *onnxruntime.Tensor[int64]
	ImageFeaturesMask *onnxruntime.Tensor[int64]
}

// Destroy releases the underlying ONNX tensors.
func (t *EncodingTensors) Destroy() {
	if t.InputIDs != nil {
		t.InputIDs.Destroy()
	}
	if t.AttentionMask != nil {
		t.AttentionMask.Destroy()
	}
	if t.ImageFeaturesMask != nil {
		t.ImageFeaturesMask.Destroy()
	}
}

// Tensors materializes the encoding as ONNX Runtime tensors. The batch must
// be rectangular, which padding guarantees, and the runtime environment
// must already be initialized.
func (e *Encoding) Tensors() (*EncodingTensors, error) {
	if len(e.InputIDs) == 0 {
		return nil, fmt.Errorf("encoding holds no sequences")
	}

	seqLen := len(e.InputIDs[0])
	for i, ids := range e.InputIDs {
		if len(ids) != seqLen {
			return nil, fmt.Errorf("sequence %d has length %d, want %d; pad the batch first", i, len(ids), seqLen)
		}
	}

	if !onnxruntime.IsInitialized() {
		return nil, ErrTensorBackendUnavailable
	}

	shape := onnxruntime.NewShape(int64(len(e.InputIDs)), int64(seqLen))

	inputIDs, err := onnxruntime.NewTensor(shape, flattenInt64(e.InputIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to create input ids tensor: %w", err)
	}
	attention, err := onnxruntime.NewTensor(shape, flattenInt64(e.AttentionMask))
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("failed to create attention mask tensor: %w", err)
	}

	tensors := &EncodingTensors{InputIDs: inputIDs, AttentionMask: attention}

	if e.ImageFeaturesMask != nil {
		mask, err := onnxruntime.NewTensor(shape, flattenBool(e.ImageFeaturesMask))
		if err != nil {
			tensors.Destroy()
			return nil, fmt.Errorf("failed to create image features mask tensor: %w", err)
		}
		tensors.ImageFeaturesMask = mask
	}
	return tensors, nil
}

func flattenInt64(rows [][]int64) []int64 {
	out := make([]int64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

func flattenBool(rows [][]bool) []int64 {
	out := make([]int64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		for _, v := range row {
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}
