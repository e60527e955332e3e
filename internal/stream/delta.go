// Package stream implements the stream normalization engine: it consumes raw
// upstream frames (OpenAI-compatible deltas or Gemini candidates) and
// produces the unified client event sequence, splitting reasoning from answer
// text, batching small fragments, and guaranteeing terminal events on every
// exit path.
package stream

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// UpstreamDelta is the normalized view of one upstream increment,
// independent of which provider produced it.
type UpstreamDelta struct {
	Reasoning    string
	Content      string
	ToolCalls    json.RawMessage
	FinishReason string
	Role         string
	Grounding    *GroundingMetadata
}

// IsEmpty reports whether the delta carries no payload at all. A bare role
// marker with no accompanying payload counts as empty.
func (d *UpstreamDelta) IsEmpty() bool {
	return d.Reasoning == "" && d.Content == "" && len(d.ToolCalls) == 0 &&
		d.FinishReason == "" && d.Grounding == nil
}

// ClassifyOpenAI maps one OpenAI-compatible frame to normalized deltas, one
// per choices[] entry. Reasoning arrives in the structurally separate
// delta.reasoning_content field. Malformed frames are skipped with a warning.
func ClassifyOpenAI(frame []byte, rid string) []UpstreamDelta {
	if !gjson.ValidBytes(frame) {
		logrus.Warnf("RID-%s: skipping non-JSON upstream frame: %q", rid, truncateString(string(frame), 100))
		return nil
	}

	var deltas []UpstreamDelta
	gjson.GetBytes(frame, "choices").ForEach(func(_, choice gjson.Result) bool {
		d := UpstreamDelta{
			Reasoning:    choice.Get("delta.reasoning_content").String(),
			Content:      choice.Get("delta.content").String(),
			Role:         choice.Get("delta.role").String(),
			FinishReason: choice.Get("finish_reason").String(),
		}
		if tc := choice.Get("delta.tool_calls"); tc.Exists() && tc.IsArray() {
			d.ToolCalls = json.RawMessage(tc.Raw)
		}
		deltas = append(deltas, d)
		return true
	})
	return deltas
}

// ClassifyGemini maps one Gemini candidate frame to normalized deltas, one
// per candidates[] entry. Parts tagged thought:true become reasoning text,
// the rest answer text within the same delta. Grounding metadata is carried
// through for the post-hoc citation pass.
func ClassifyGemini(frame []byte, rid string) []UpstreamDelta {
	if !gjson.ValidBytes(frame) {
		logrus.Warnf("RID-%s: skipping non-JSON upstream frame: %q", rid, truncateString(string(frame), 100))
		return nil
	}

	var deltas []UpstreamDelta
	gjson.GetBytes(frame, "candidates").ForEach(func(_, candidate gjson.Result) bool {
		d := UpstreamDelta{
			FinishReason: candidate.Get("finishReason").String(),
			Role:         candidate.Get("content.role").String(),
		}
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			text := part.Get("text").String()
			if part.Get("thought").Bool() {
				d.Reasoning += text
			} else {
				d.Content += text
			}
			return true
		})
		if gm := candidate.Get("groundingMetadata"); gm.Exists() {
			if parsed := parseGroundingMetadata(gm); parsed != nil {
				d.Grounding = parsed
			}
		}
		deltas = append(deltas, d)
		return true
	})
	return deltas
}

func parseGroundingMetadata(gm gjson.Result) *GroundingMetadata {
	md := &GroundingMetadata{}
	gm.Get("groundingChunks").ForEach(func(_, chunk gjson.Result) bool {
		md.Chunks = append(md.Chunks, GroundingChunk{
			URI:   chunk.Get("web.uri").String(),
			Title: chunk.Get("web.title").String(),
		})
		return true
	})
	gm.Get("groundingSupports").ForEach(func(_, support gjson.Result) bool {
		s := GroundingSupport{
			SegmentEndOffset: int(support.Get("segment.endIndex").Int()),
		}
		support.Get("groundingChunkIndices").ForEach(func(_, idx gjson.Result) bool {
			s.SourceIndices = append(s.SourceIndices, int(idx.Int()))
			return true
		})
		md.Supports = append(md.Supports, s)
		return true
	})
	if len(md.Chunks) == 0 && len(md.Supports) == 0 {
		return nil
	}
	return md
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
