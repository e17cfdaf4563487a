package grounding

import "fmt"

// Tag literals understood by the codec. These mirror the special tokens the
// tokenizer is trained with; the normalizer and extractor treat them as
// opaque strings.
const (
	TagImageStart  = "<image>"
	TagImageEnd    = "</image>"
	TagPhraseStart = "<phrase>"
	TagPhraseEnd   = "</phrase>"
	TagObjectStart = "<object>"
	TagObjectEnd   = "</object>"
	TagGrounding   = "<grounding>"
	TagChunkEnd    = "</chunk>"
	TagLineEnd     = "</line>"
	TagDelimiter   = "</delimiter_of_multi_objects/>"
)

// BaseTags returns the fixed tag literals, without the patch-index tokens.
func BaseTags() []string {
	return []string{
		TagImageStart,
		TagImageEnd,
		TagPhraseStart,
		TagPhraseEnd,
		TagObjectStart,
		TagObjectEnd,
		TagGrounding,
		TagChunkEnd,
		TagLineEnd,
		TagDelimiter,
	}
}

// PatchIndexToken returns the textual token naming grid cell idx,
// zero-padded to four digits.
func PatchIndexToken(idx int) string {
	return fmt.Sprintf("<patch_index_%04d>", idx)
}

// TagVocabulary returns the full tag vocabulary for a patch-index token
// count n: the base tags plus one token per grid cell.
func TagVocabulary(n int) []string {
	tags := BaseTags()
	for i := 0; i < n; i++ {
		tags = append(tags, PatchIndexToken(i))
	}
	return tags
}
