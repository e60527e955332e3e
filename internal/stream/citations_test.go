package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpliceCitations_EmptySupportsIsIdentity(t *testing.T) {
	text := "untouched answer"
	assert.Equal(t, text, SpliceCitations(text, nil))
	assert.Equal(t, text, SpliceCitations(text, &GroundingMetadata{}))
	assert.Equal(t, text, SpliceCitations(text, &GroundingMetadata{
		Chunks: []GroundingChunk{{URI: "https://x.example"}},
	}))
}

func TestSpliceCitations_SingleSupport(t *testing.T) {
	md := &GroundingMetadata{
		Chunks:   []GroundingChunk{{URI: "https://src.example", Title: "Src"}},
		Supports: []GroundingSupport{{SegmentEndOffset: 5, SourceIndices: []int{0}}},
	}
	got := SpliceCitations("Hello world", md)
	assert.Equal(t, "Hello[1](https://src.example) world", got)
}

func TestSpliceCitations_DescendingOrderPreservesOffsets(t *testing.T) {
	// Supports arrive in ascending order; insertion must happen descending
	// so the smaller offset still points at the right position.
	text := "abcdefghij"
	md := &GroundingMetadata{
		Chunks: []GroundingChunk{
			{URI: "https://one.example"},
			{URI: "https://two.example"},
		},
		Supports: []GroundingSupport{
			{SegmentEndOffset: 3, SourceIndices: []int{0}},
			{SegmentEndOffset: 7, SourceIndices: []int{1}},
		},
	}
	got := SpliceCitations(text, md)
	assert.Equal(t, "abc[1](https://one.example)defg[2](https://two.example)hij", got)

	// The citation for the larger offset appears strictly after the one for
	// the smaller offset in the final string.
	assert.Less(t,
		strings.Index(got, "[1](https://one.example)"),
		strings.Index(got, "[2](https://two.example)"))
}

func TestSpliceCitations_MultipleSourcesOneSupport(t *testing.T) {
	md := &GroundingMetadata{
		Chunks: []GroundingChunk{
			{URI: "https://a.example"},
			{URI: "https://b.example"},
		},
		Supports: []GroundingSupport{{SegmentEndOffset: 4, SourceIndices: []int{0, 1}}},
	}
	got := SpliceCitations("fact and more", md)
	assert.Equal(t, "fact[1](https://a.example), [2](https://b.example) and more", got)
}

func TestSpliceCitations_SkipsUnresolvableSources(t *testing.T) {
	md := &GroundingMetadata{
		Chunks: []GroundingChunk{
			{URI: ""},
			{URI: "https://ok.example"},
		},
		Supports: []GroundingSupport{
			{SegmentEndOffset: 4, SourceIndices: []int{0}},      // empty URI
			{SegmentEndOffset: 4, SourceIndices: []int{9}},      // out of range
			{SegmentEndOffset: 4, SourceIndices: []int{1}},      // resolvable
			{SegmentEndOffset: -1, SourceIndices: []int{1}},     // negative offset
		},
	}
	got := SpliceCitations("text tail", md)
	assert.Equal(t, "text[2](https://ok.example) tail", got)
}

func TestSpliceCitations_OffsetBeyondTextClamped(t *testing.T) {
	md := &GroundingMetadata{
		Chunks:   []GroundingChunk{{URI: "https://end.example"}},
		Supports: []GroundingSupport{{SegmentEndOffset: 999, SourceIndices: []int{0}}},
	}
	got := SpliceCitations("short", md)
	assert.Equal(t, "short[1](https://end.example)", got)
}
