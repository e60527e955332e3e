package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyOpenAI_SeparateReasoningAndContent(t *testing.T) {
	frame := []byte(`{"id":"x","choices":[{"delta":{"role":"assistant","reasoning_content":"hmm","content":"hi"},"finish_reason":null}]}`)

	deltas := ClassifyOpenAI(frame, "rid")
	require.Len(t, deltas, 1)
	assert.Equal(t, "hmm", deltas[0].Reasoning)
	assert.Equal(t, "hi", deltas[0].Content)
	assert.Equal(t, "assistant", deltas[0].Role)
	assert.Empty(t, deltas[0].FinishReason)
	assert.Nil(t, deltas[0].ToolCalls)
}

func TestClassifyOpenAI_FinishReasonAndToolCalls(t *testing.T) {
	frame := []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"f","arguments":"{"}}]},"finish_reason":"tool_calls"}]}`)

	deltas := ClassifyOpenAI(frame, "rid")
	require.Len(t, deltas, 1)
	assert.Equal(t, "tool_calls", deltas[0].FinishReason)
	assert.Contains(t, string(deltas[0].ToolCalls), `"call_1"`)
}

func TestClassifyOpenAI_MultipleChoices(t *testing.T) {
	frame := []byte(`{"choices":[{"delta":{"content":"a"}},{"delta":{"content":"b"},"finish_reason":"stop"}]}`)

	deltas := ClassifyOpenAI(frame, "rid")
	require.Len(t, deltas, 2)
	assert.Equal(t, "a", deltas[0].Content)
	assert.Equal(t, "b", deltas[1].Content)
	assert.Equal(t, "stop", deltas[1].FinishReason)
}

func TestClassifyOpenAI_MalformedFrameSkipped(t *testing.T) {
	assert.Nil(t, ClassifyOpenAI([]byte(`{"choices":[`), "rid"))
	assert.Nil(t, ClassifyOpenAI([]byte(`not json at all`), "rid"))
}

func TestClassifyOpenAI_RoleOnlyDeltaIsEmpty(t *testing.T) {
	frame := []byte(`{"choices":[{"delta":{"role":"assistant"}}]}`)
	deltas := ClassifyOpenAI(frame, "rid")
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].IsEmpty())
}

func TestClassifyGemini_ThoughtPartsBecomeReasoning(t *testing.T) {
	frame := []byte(`{"candidates":[{"content":{"role":"model","parts":[
		{"thought":true,"text":"thinking about it"},
		{"text":"the answer"}
	]},"finishReason":"STOP"}]}`)

	deltas := ClassifyGemini(frame, "rid")
	require.Len(t, deltas, 1)
	assert.Equal(t, "thinking about it", deltas[0].Reasoning)
	assert.Equal(t, "the answer", deltas[0].Content)
	assert.Equal(t, "STOP", deltas[0].FinishReason)
}

func TestClassifyGemini_MultipleCandidates(t *testing.T) {
	frame := []byte(`{"candidates":[
		{"content":{"parts":[{"text":"one"}]}},
		{"content":{"parts":[{"text":"two"}]}}
	]}`)

	deltas := ClassifyGemini(frame, "rid")
	require.Len(t, deltas, 2)
	assert.Equal(t, "one", deltas[0].Content)
	assert.Equal(t, "two", deltas[1].Content)
}

func TestClassifyGemini_GroundingMetadata(t *testing.T) {
	frame := []byte(`{"candidates":[{
		"content":{"parts":[{"text":"grounded answer"}]},
		"groundingMetadata":{
			"groundingChunks":[
				{"web":{"uri":"https://a.example","title":"A"}},
				{"web":{"uri":"https://b.example","title":"B"}}
			],
			"groundingSupports":[
				{"segment":{"startIndex":0,"endIndex":8},"groundingChunkIndices":[0,1]},
				{"segment":{"endIndex":15},"groundingChunkIndices":[1]}
			]
		}
	}]}`)

	deltas := ClassifyGemini(frame, "rid")
	require.Len(t, deltas, 1)
	require.NotNil(t, deltas[0].Grounding)

	md := deltas[0].Grounding
	require.Len(t, md.Chunks, 2)
	assert.Equal(t, "https://a.example", md.Chunks[0].URI)
	assert.Equal(t, "A", md.Chunks[0].Title)
	require.Len(t, md.Supports, 2)
	assert.Equal(t, 8, md.Supports[0].SegmentEndOffset)
	assert.Equal(t, []int{0, 1}, md.Supports[0].SourceIndices)
	assert.Equal(t, []int{1}, md.Supports[1].SourceIndices)
}

func TestClassifyGemini_MalformedFrameSkipped(t *testing.T) {
	assert.Nil(t, ClassifyGemini([]byte(`{"candidates"`), "rid"))
}

func TestClassifyGemini_NoCandidates(t *testing.T) {
	assert.Empty(t, ClassifyGemini([]byte(`{"usageMetadata":{"totalTokenCount":10}}`), "rid"))
}
