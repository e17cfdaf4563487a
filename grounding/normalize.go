package grounding

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// NormalizeTagSpacing rewrites whitespace around the given tag tokens so
// that a tag is never preceded by whitespace and, unless another tag
// follows, is followed by exactly one space. Downstream subword
// tokenization then sees the same canonical form however the upstream step
// spaced its output. The rewrite is idempotent.
func NormalizeTagSpacing(text string, tags []string) string {
	if len(tags) == 0 {
		return text
	}

	tagSet := make(map[string]struct{}, len(tags))
	escaped := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagSet[tag] = struct{}{}
		escaped = append(escaped, regexp.QuoteMeta(tag))
	}
	// Longest alternative first so no tag is shadowed by a shorter prefix.
	sort.Slice(escaped, func(i, j int) bool { return len(escaped[i]) > len(escaped[j]) })
	pattern := regexp.MustCompile(strings.Join(escaped, "|"))

	locs := pattern.FindAllStringIndex(text, -1)
	splits := make([]string, 0, 2*len(locs)+1)
	pos := 0
	for _, loc := range locs {
		splits = append(splits, text[pos:loc[0]], text[loc[0]:loc[1]])
		pos = loc[1]
	}
	splits = append(splits, text[pos:])

	// An empty fragment from a split exactly at the string boundary carries
	// no spacing information.
	if len(splits) > 0 && splits[0] == "" {
		splits = splits[1:]
	}
	if len(splits) > 0 && splits[len(splits)-1] == "" {
		splits = splits[:len(splits)-1]
	}

	output := ""
	prevWasTag := false
	for _, split := range splits {
		if _, ok := tagSet[split]; ok {
			output = strings.TrimRightFunc(output, unicode.IsSpace) + split
			prevWasTag = true
			continue
		}
		if prevWasTag && !strings.HasPrefix(split, " ") {
			output += " " + split
		} else {
			output += split
		}
		prevWasTag = false
	}
	return output
}
