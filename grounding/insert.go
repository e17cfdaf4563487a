package grounding

import (
	"fmt"
	"regexp"
	"strings"
)

var phrasePattern = regexp.MustCompile(`<phrase>.+?</phrase>`)

// InsertPatchIndexTokens appends an <object> block after each
// <phrase>...</phrase> span in text, encoding the aligned group of bounding
// boxes as patch-index token pairs. Groups must line up one to one with the
// phrase spans in order. A nil or empty group emits nothing for its phrase.
// Coordinate boxes are quantized on a gridSide x gridSide grid; patch-index
// boxes are emitted as-is. Indices are zero-padded to four digits.
func InsertPatchIndexTokens(text string, groups []BoxGroup, gridSide int) (string, error) {
	if len(groups) == 0 {
		return text, nil
	}

	matches := phrasePattern.FindAllStringIndex(text, -1)
	if len(matches) != len(groups) {
		return "", fmt.Errorf("%w: got %d phrase spans v.s. %d box groups",
			ErrPhraseCountMismatch, len(matches), len(groups))
	}

	var buf strings.Builder
	pos := 0
	for i, loc := range matches {
		buf.WriteString(text[pos:loc[1]])
		pos = loc[1]

		group := groups[i]
		if len(group) == 0 {
			continue
		}

		pairs := make([]string, 0, len(group))
		for _, box := range group {
			first, second, err := patchIndexTokenPair(box, gridSide)
			if err != nil {
				return "", err
			}
			pairs = append(pairs, first+" "+second)
		}
		buf.WriteString("<object> " + strings.Join(pairs, " "+TagDelimiter+" ") + " </object>")
	}
	buf.WriteString(text[pos:])

	return buf.String(), nil
}

func patchIndexTokenPair(box BoundingBox, gridSide int) (string, string, error) {
	switch b := box.(type) {
	case PatchIndexBox:
		return PatchIndexToken(b.UpperLeft), PatchIndexToken(b.LowerRight), nil
	case CoordinateBox:
		q := CoordinateToPatchIndex(b, gridSide)
		return PatchIndexToken(q.UpperLeft), PatchIndexToken(q.LowerRight), nil
	case nil:
		return "", "", fmt.Errorf("%w: nil box in group", ErrInvalidBox)
	default:
		return "", "", fmt.Errorf("%w: unsupported box type %T", ErrInvalidBox, box)
	}
}
