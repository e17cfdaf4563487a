package processor

import "fmt"

// expandImageTokens rewrites the image placeholder in every sequence of the
// encoding into the synthetic image-latent id run and attaches the aligned
// image features mask, then re-pads the batch uniformly if the request
// asked for padding.
func (p *Processor) expandImageTokens(encoding *Encoding, opts Options) error {
	firstImageTokenID := opts.FirstImageTokenID
	if firstImageTokenID == 0 {
		// The image-latent id range starts just past the reserved
		// unknown-token id.
		firstImageTokenID = p.tokenizer.UnknownTokenID() + 1
	}

	withBOS := opts.AddSpecialTokens
	for i := range encoding.InputIDs {
		ids, attention, mask, err := expandSequence(
			encoding.InputIDs[i],
			encoding.AttentionMask[i],
			p.tokenizer.ImageTokenID(),
			firstImageTokenID,
			opts.NumImageTokens,
			withBOS,
		)
		if err != nil {
			return fmt.Errorf("sequence %d: %w", i, err)
		}
		encoding.InputIDs[i] = ids
		encoding.AttentionMask[i] = attention
		encoding.ImageFeaturesMask = append(encoding.ImageFeaturesMask, mask)
	}

	return p.padBatch(encoding, opts)
}

// expandSequence replaces the placeholder image token with numImageTokens
// consecutive ids starting at firstImageTokenID and builds the boolean mask
// that is true exactly over the expanded run. The placeholder is the first
// image token after the optional beginning-of-sequence token; when the
// image slot carries its begin marker (the same token id), the marker is
// kept and the token right after it is the one expanded.
func expandSequence(ids, attention []int64, placeholderID, firstImageTokenID int64, numImageTokens int, withBOS bool) ([]int64, []int64, []bool, error) {
	searchFrom := 0
	if withBOS {
		searchFrom = 1
	}

	pos := -1
	for i := searchFrom; i < len(ids); i++ {
		if ids[i] == placeholderID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, nil, nil, ErrNoImagePlaceholder
	}
	// Begin-of-image marker followed by the actual placeholder.
	if pos+1 < len(ids) && ids[pos+1] == placeholderID {
		pos++
	}

	expanded := make([]int64, 0, len(ids)+numImageTokens-1)
	expanded = append(expanded, ids[:pos]...)
	for k := 0; k < numImageTokens; k++ {
		expanded = append(expanded, firstImageTokenID+int64(k))
	}
	expanded = append(expanded, ids[pos+1:]...)

	expandedAttention := make([]int64, 0, len(expanded))
	expandedAttention = append(expandedAttention, attention[:pos]...)
	for k := 0; k < numImageTokens; k++ {
		expandedAttention = append(expandedAttention, 1)
	}
	expandedAttention = append(expandedAttention, attention[pos+1:]...)

	mask := make([]bool, len(expanded))
	for k := 0; k < numImageTokens; k++ {
		mask[pos+k] = true
	}

	return expanded, expandedAttention, mask, nil
}

// padBatch pads input ids, attention masks and image features masks to a
// common length using the tokenizer's pad token id and padding side.
func (p *Processor) padBatch(encoding *Encoding, opts Options) error {
	var target int
	switch opts.Padding {
	case PaddingNone:
		return nil
	case PaddingLongest:
		for _, ids := range encoding.InputIDs {
			if len(ids) > target {
				target = len(ids)
			}
		}
	case PaddingMaxLength:
		if opts.MaxLength <= 0 {
			return fmt.Errorf("padding %q requires a positive max length", PaddingMaxLength)
		}
		target = opts.MaxLength
	default:
		return fmt.Errorf("unsupported padding strategy %q", opts.Padding)
	}
	if m := opts.PadToMultipleOf; m > 0 && target%m != 0 {
		target += m - target%m
	}

	padID := p.tokenizer.PadTokenID()
	padLeft := p.tokenizer.PaddingSide() == PaddingSideLeft

	for i := range encoding.InputIDs {
		missing := target - len(encoding.InputIDs[i])
		if missing <= 0 {
			continue
		}
		encoding.InputIDs[i] = padInt64(encoding.InputIDs[i], padID, missing, padLeft)
		encoding.AttentionMask[i] = padInt64(encoding.AttentionMask[i], 0, missing, padLeft)
		if i < len(encoding.ImageFeaturesMask) {
			encoding.ImageFeaturesMask[i] = padBool(encoding.ImageFeaturesMask[i], missing, padLeft)
		}
	}
	return nil
}

func padInt64(seq []int64, value int64, count int, left bool) []int64 {
	pad := make([]int64, count)
	for i := range pad {
		pad[i] = value
	}
	if left {
		return append(pad, seq...)
	}
	return append(seq, pad...)
}

func padBool(seq []bool, count int, left bool) []bool {
	pad := make([]bool, count)
	if left {
		return append(pad, seq...)
	}
	return append(seq, pad...)
}
