package grounding

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	entityPattern = regexp.MustCompile(
		`(?:(<phrase>([^<]+)</phrase>))?<object>((?:<patch_index_\d+><patch_index_\d+></delimiter_of_multi_objects/>)*<patch_index_\d+><patch_index_\d+>)</object>`)
	patchIndexPattern   = regexp.MustCompile(`<patch_index_(\d+)>`)
	specialFieldPattern = regexp.MustCompile(`<.*?>`)
)

// ExtractEntities parses generated text for phrase/object blocks, returning
// boxes in the patch-index domain and spans in raw-text byte offsets.
// Parsing is best effort: generated text is untrusted and malformed tag
// sequences simply do not match, they never produce an error.
//
// A bare <object> block with no preceding phrase yields one entity per index
// pair, named by the literal tag-pair text and holding a zero-width span at
// the block's start position.
func ExtractEntities(text string) []PatchEntity {
	var entities []PatchEntity
	for _, m := range entityPattern.FindAllStringSubmatchIndex(text, -1) {
		// m holds pairs: 0-1 whole match, 2-3 phrase with tags,
		// 4-5 phrase content, 6-7 patch index pairs.
		pairs := parsePatchIndexPairs(text[m[6]:m[7]])

		if m[2] >= 0 {
			entities = append(entities, PatchEntity{
				Name:  text[m[4]:m[5]],
				Start: m[4],
				End:   m[5],
				Pairs: pairs,
			})
			continue
		}

		for _, pair := range pairs {
			entities = append(entities, PatchEntity{
				Name:  PatchIndexToken(pair.UpperLeft) + PatchIndexToken(pair.LowerRight),
				Start: m[0],
				End:   m[0],
				Pairs: []PatchIndexBox{pair},
			})
		}
	}
	return entities
}

func parsePatchIndexPairs(content string) []PatchIndexBox {
	var pairs []PatchIndexBox
	for _, chunk := range strings.Split(content, TagDelimiter) {
		found := patchIndexPattern.FindAllStringSubmatch(chunk, 2)
		if len(found) < 2 {
			continue
		}
		ul, err1 := strconv.Atoi(found[0][1])
		lr, err2 := strconv.Atoi(found[1][1])
		if err1 != nil || err2 != nil {
			continue
		}
		pairs = append(pairs, PatchIndexBox{UpperLeft: ul, LowerRight: lr})
	}
	return pairs
}

// RemoveSpecialFields strips every tag-shaped <...> run, known vocabulary or
// not. The result is the canonical tag-free text that entity spans index
// into.
func RemoveSpecialFields(text string) string {
	return specialFieldPattern.ReplaceAllString(text, "")
}

// adjustEntityPosition translates a raw-text span to the offsets the same
// characters occupy once every tag is stripped. The translation only goes
// this direction, never back.
func adjustEntityPosition(entity PatchEntity, text string) PatchEntity {
	entity.Start = len(RemoveSpecialFields(text[:entity.Start]))
	entity.End = len(RemoveSpecialFields(text[:entity.End]))
	return entity
}

// CleanAndExtract runs the full decode over one generated text: extract
// entities, convert their patch-index pairs to normalized coordinates on a
// gridSide patch grid, translate spans to tag-stripped offsets, then strip
// and trim the text, re-basing every span and entity name so they index the
// final trimmed string.
func CleanAndExtract(text string, gridSide int) (string, []Entity) {
	processed := RemoveSpecialFields(text)

	entities := []Entity{}
	for _, pe := range ExtractEntities(text) {
		adjusted := adjustEntityPosition(pe, text)

		boxes := make([]CoordinateBox, 0, len(pe.Pairs))
		for _, pair := range pe.Pairs {
			boxes = append(boxes, PatchIndexToCoordinate(pair.UpperLeft, pair.LowerRight, gridSide))
		}

		entities = append(entities, Entity{
			Name:  adjusted.Name,
			Start: adjusted.Start,
			End:   adjusted.End,
			Boxes: boxes,
		})
	}

	return cleanupSpaces(processed, entities)
}

func cleanupSpaces(text string, entities []Entity) (string, []Entity) {
	trimmed := strings.TrimSpace(text)
	leading := len(text) - len(strings.TrimLeftFunc(text, unicode.IsSpace))

	adjusted := make([]Entity, 0, len(entities))
	for _, e := range entities {
		nameLeading := len(e.Name) - len(strings.TrimLeftFunc(e.Name, unicode.IsSpace))
		nameTrailing := len(e.Name) - len(strings.TrimRightFunc(e.Name, unicode.IsSpace))

		e.Start = e.Start - leading + nameLeading
		e.End = e.End - leading - nameTrailing
		e.Name = strings.TrimSpace(e.Name)
		adjusted = append(adjusted, e)
	}
	return trimmed, adjusted
}
