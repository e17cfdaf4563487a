// Package tokenizer adapts a HuggingFace tokenizer.json vocabulary to the
// processor's Tokenizer interface.
package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"

	"github.com/hannes/groundtag/grounding"
	"github.com/hannes/groundtag/processor"
)

// Config identifies the tokenizer file and the special-token layout of the
// vocabulary. The defaults match the grounding tokenizer this service is
// built around: a sentencepiece vocabulary with <s>=0, <pad>=1, </s>=2,
// <unk>=3, 1024 patch-index tokens and an <image> special token.
type Config struct {
	Path string

	BOSToken       string
	BOSTokenID     int64
	UnknownTokenID int64
	PadTokenID     int64
	ImageTokenID   int64

	PaddingSide         processor.PaddingSide
	NumPatchIndexTokens int
}

// DefaultConfig returns the stock special-token layout.
func DefaultConfig(path string) Config {
	return Config{
		Path:                path,
		BOSToken:            "<s>",
		BOSTokenID:          0,
		PadTokenID:          1,
		UnknownTokenID:      3,
		ImageTokenID:        64003,
		PaddingSide:         processor.PaddingSideRight,
		NumPatchIndexTokens: 1024,
	}
}

// HFTokenizer implements processor.Tokenizer over the tokenizers binding.
type HFTokenizer struct {
	tk  *tokenizers.Tokenizer
	cfg Config
}

// New loads the tokenizer file referenced by cfg.Path.
func New(cfg Config) (*HFTokenizer, error) {
	tk, err := tokenizers.FromFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer from %s: %w", cfg.Path, err)
	}
	return &HFTokenizer{tk: tk, cfg: cfg}, nil
}

// Close releases the underlying tokenizer.
func (t *HFTokenizer) Close() error {
	return t.tk.Close()
}

// Tokenize encodes the batch and applies truncation and padding according
// to opts and the configured padding side.
func (t *HFTokenizer) Tokenize(texts []string, opts processor.TokenizeOptions) (*processor.TokenizedText, error) {
	out := &processor.TokenizedText{
		InputIDs:      make([][]int64, 0, len(texts)),
		AttentionMask: make([][]int64, 0, len(texts)),
	}

	maxLen := 0
	for _, text := range texts {
		rawIDs, _ := t.tk.Encode(text, opts.AddSpecialTokens)

		ids := make([]int64, len(rawIDs))
		for i, id := range rawIDs {
			ids[i] = int64(id)
		}
		if opts.Truncation && opts.MaxLength > 0 && len(ids) > opts.MaxLength {
			ids = ids[:opts.MaxLength]
		}

		attention := make([]int64, len(ids))
		for i := range attention {
			attention[i] = 1
		}

		out.InputIDs = append(out.InputIDs, ids)
		out.AttentionMask = append(out.AttentionMask, attention)
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	target, err := padTarget(opts, maxLen)
	if err != nil {
		return nil, err
	}
	if target > 0 {
		padLeft := t.cfg.PaddingSide == processor.PaddingSideLeft
		for i := range out.InputIDs {
			missing := target - len(out.InputIDs[i])
			if missing <= 0 {
				continue
			}
			out.InputIDs[i] = padSequence(out.InputIDs[i], t.cfg.PadTokenID, missing, padLeft)
			out.AttentionMask[i] = padSequence(out.AttentionMask[i], 0, missing, padLeft)
		}
	}
	return out, nil
}

// padTarget resolves the padding strategy to a concrete target length, 0
// meaning no padding.
func padTarget(opts processor.TokenizeOptions, longest int) (int, error) {
	var target int
	switch opts.Padding {
	case processor.PaddingNone:
		return 0, nil
	case processor.PaddingLongest:
		target = longest
	case processor.PaddingMaxLength:
		if opts.MaxLength <= 0 {
			return 0, fmt.Errorf("padding %q requires a positive max length", processor.PaddingMaxLength)
		}
		target = opts.MaxLength
	default:
		return 0, fmt.Errorf("unsupported padding strategy %q", opts.Padding)
	}
	if m := opts.PadToMultipleOf; m > 0 && target%m != 0 {
		target += m - target%m
	}
	return target, nil
}

func padSequence(seq []int64, value int64, count int, left bool) []int64 {
	pad := make([]int64, count)
	for i := range pad {
		pad[i] = value
	}
	if left {
		return append(pad, seq...)
	}
	return append(seq, pad...)
}

// Decode renders token ids back to text.
func (t *HFTokenizer) Decode(ids []int64, skipSpecialTokens bool) string {
	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}
	return t.tk.Decode(raw, skipSpecialTokens)
}

func (t *HFTokenizer) BOSToken() string      { return t.cfg.BOSToken }
func (t *HFTokenizer) BOSTokenID() int64     { return t.cfg.BOSTokenID }
func (t *HFTokenizer) UnknownTokenID() int64 { return t.cfg.UnknownTokenID }
func (t *HFTokenizer) PadTokenID() int64     { return t.cfg.PadTokenID }
func (t *HFTokenizer) ImageTokenID() int64   { return t.cfg.ImageTokenID }

func (t *HFTokenizer) PaddingSide() processor.PaddingSide { return t.cfg.PaddingSide }

// TagTokens returns the fixed tag literals of the vocabulary, without the
// patch-index tokens.
func (t *HFTokenizer) TagTokens() []string { return grounding.BaseTags() }

func (t *HFTokenizer) NumPatchIndexTokens() int { return t.cfg.NumPatchIndexTokens }
