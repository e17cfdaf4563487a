package processor

import (
	"strings"

	"github.com/hannes/groundtag/grounding"
)

// PostProcessGeneration converts one generated sequence back into clean
// text and grounded entities. The caption is everything after the last
// </image>; extraction is best effort and malformed generations simply
// yield fewer entities.
func (p *Processor) PostProcessGeneration(text string) (string, []grounding.Entity) {
	parts := strings.Split(text, grounding.TagImageEnd)
	caption := parts[len(parts)-1]
	return grounding.CleanAndExtract(caption, p.GridSide())
}

// Caption returns the generated caption with all tags still in place,
// without entity extraction.
func (p *Processor) Caption(text string) string {
	parts := strings.Split(text, grounding.TagImageEnd)
	return parts[len(parts)-1]
}

// Decode renders token ids back into text through the tokenizer.
func (p *Processor) Decode(ids []int64, skipSpecialTokens bool) string {
	return p.tokenizer.Decode(ids, skipSpecialTokens)
}
