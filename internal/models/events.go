package models

import (
	"encoding/json"
	"time"
)

// Stream event types delivered to the client. Every stream ends with exactly
// one EventFinish, and no event follows it.
const (
	EventContent          = "content"
	EventReasoning        = "reasoning"
	EventReasoningFinish  = "reasoning_finish"
	EventToolCallsChunk   = "tool_calls_chunk"
	EventStatusUpdate     = "status_update"
	EventWebSearchResults = "web_search_results"
	EventAnnotatedContent = "annotated_content"
	EventError            = "error"
	EventFinish           = "finish"
)

// Finish reasons produced by the proxy itself (upstream-supplied reasons such
// as "stop" or "tool_calls" pass through untouched).
const (
	FinishStreamEnd     = "stream_end"
	FinishUpstreamError = "upstream_error_or_connection_failed"
	FinishErrorInStream = "error_in_stream"
	FinishRequestError  = "request_error"
)

// StreamEvent is one newline-terminated JSON record on the client-facing
// stream. Only the fields relevant to the event type are populated.
type StreamEvent struct {
	Type      string            `json:"type"`
	Stage     string            `json:"stage,omitempty"`
	Text      string            `json:"text,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Results   []WebSearchResult `json:"results,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
}

// WebSearchResult is one ranked result from the web-search collaborator.
type WebSearchResult struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Href    string `json:"href"`
	Snippet string `json:"snippet"`
}

// NowISO returns the current UTC time in ISO-8601 with a Z suffix, matching
// the timestamp format of every stream event.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

func ContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventContent, Text: text, Timestamp: NowISO()}
}

func ReasoningEvent(text string) StreamEvent {
	return StreamEvent{Type: EventReasoning, Text: text, Timestamp: NowISO()}
}

func ReasoningFinishEvent() StreamEvent {
	return StreamEvent{Type: EventReasoningFinish, Timestamp: NowISO()}
}

func ToolCallsChunkEvent(data json.RawMessage) StreamEvent {
	return StreamEvent{Type: EventToolCallsChunk, Data: data, Timestamp: NowISO()}
}

func StatusUpdateEvent(stage string) StreamEvent {
	return StreamEvent{Type: EventStatusUpdate, Stage: stage, Timestamp: NowISO()}
}

func WebSearchResultsEvent(results []WebSearchResult) StreamEvent {
	return StreamEvent{Type: EventWebSearchResults, Results: results, Timestamp: NowISO()}
}

func AnnotatedContentEvent(text string) StreamEvent {
	return StreamEvent{Type: EventAnnotatedContent, Text: text, Timestamp: NowISO()}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message, Timestamp: NowISO()}
}

func FinishEvent(reason string) StreamEvent {
	return StreamEvent{Type: EventFinish, Reason: reason, Timestamp: NowISO()}
}
