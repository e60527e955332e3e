package stream

import (
	"fmt"
	"sort"
	"strings"
)

// GroundingChunk is one citation source supplied by the upstream provider.
type GroundingChunk struct {
	URI   string
	Title string
}

// GroundingSupport maps an end offset in the final answer text to the chunks
// that support the preceding segment.
type GroundingSupport struct {
	SegmentEndOffset int
	SourceIndices    []int
}

// GroundingMetadata is the full citation metadata accumulated over a stream.
type GroundingMetadata struct {
	Chunks   []GroundingChunk
	Supports []GroundingSupport
}

// SpliceCitations inserts formatted citation markers into completed answer
// text. Supports are applied in descending offset order so earlier
// insertions never invalidate the remaining (smaller) offsets. Supports with
// unresolved indices or empty URIs are skipped; offsets beyond the text are
// clamped to its end. Offsets are byte offsets into the assembled UTF-8 text.
//
// This pass requires the final assembled text and must never be applied to
// already-streamed incremental events.
func SpliceCitations(text string, md *GroundingMetadata) string {
	if md == nil || len(md.Supports) == 0 {
		return text
	}

	supports := make([]GroundingSupport, len(md.Supports))
	copy(supports, md.Supports)
	sort.SliceStable(supports, func(i, j int) bool {
		return supports[i].SegmentEndOffset > supports[j].SegmentEndOffset
	})

	for _, support := range supports {
		citation := formatCitation(support, md.Chunks)
		if citation == "" {
			continue
		}
		offset := support.SegmentEndOffset
		if offset < 0 {
			continue
		}
		if offset > len(text) {
			offset = len(text)
		}
		text = text[:offset] + citation + text[offset:]
	}
	return text
}

// formatCitation renders the citation string for one support: a bracketed
// 1-based reference number immediately followed by a parenthesized link, one
// per resolvable source, comma-separated.
func formatCitation(support GroundingSupport, chunks []GroundingChunk) string {
	var refs []string
	for _, idx := range support.SourceIndices {
		if idx < 0 || idx >= len(chunks) {
			continue
		}
		if chunks[idx].URI == "" {
			continue
		}
		refs = append(refs, fmt.Sprintf("[%d](%s)", idx+1, chunks[idx].URI))
	}
	return strings.Join(refs, ", ")
}
