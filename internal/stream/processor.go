package stream

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/models"
)

// Flush minimums. Reasoning streams eagerly for perceived responsiveness;
// answer text is batched into larger chunks.
const (
	MinReasoningFlushChunkSize = 1
	MinContentFlushChunkSize   = 20
)

// ProcessingState is the per-request mutable record owned exclusively by one
// in-flight stream.
//
// Invariants: once FinishEmitted is true no further events are produced;
// ReasoningFinishEmitted can only become true after HadAnyReasoning, and must
// become true before the terminal finish event whenever HadAnyReasoning was
// ever set.
type ProcessingState struct {
	AccumulatedContent     string
	AccumulatedReasoning   string
	HadAnyReasoning        bool
	HadAnyContent          bool
	ReasoningFinishEmitted bool
	FinishEmitted          bool
	InTagMode              bool
}

// Config controls flush thresholds and inline marker detection for one
// processor.
type Config struct {
	MinReasoningFlush int
	MinContentFlush   int

	// DetectInlineTags enables <think> marker scanning of answer text for
	// providers that do not separate reasoning structurally.
	DetectInlineTags bool
	OpenTag          string
	CloseTag         string
}

// DefaultConfig returns the production thresholds with inline tag detection
// enabled.
func DefaultConfig() Config {
	return Config{
		MinReasoningFlush: MinReasoningFlushChunkSize,
		MinContentFlush:   MinContentFlushChunkSize,
		DetectInlineTags:  true,
		OpenTag:           DefaultOpenTag,
		CloseTag:          DefaultCloseTag,
	}
}

// Processor is the per-request normalization pipeline: it consumes
// UpstreamDelta values in arrival order and returns the client events each
// one produces. It is not safe for concurrent use; each request owns one.
type Processor struct {
	cfg       Config
	state     ProcessingState
	detector  *TagDetector
	assembled strings.Builder
	grounding *GroundingMetadata
	rid       string
	finalized bool

	// structuralReasoning is latched once the provider delivers reasoning
	// through a separate field; marker scanning is skipped for such deltas.
	structuralReasoning bool
}

// NewProcessor builds a processor for one request stream.
func NewProcessor(cfg Config, rid string) *Processor {
	if cfg.MinReasoningFlush <= 0 {
		cfg.MinReasoningFlush = MinReasoningFlushChunkSize
	}
	if cfg.MinContentFlush <= 0 {
		cfg.MinContentFlush = MinContentFlushChunkSize
	}
	return &Processor{
		cfg:      cfg,
		detector: NewTagDetector(cfg.OpenTag, cfg.CloseTag),
		rid:      rid,
	}
}

// State exposes a copy of the current processing state, mainly for tests and
// the finalizer.
func (p *Processor) State() ProcessingState {
	return p.state
}

// AssembledContent returns the full answer text accumulated so far, before
// citation splicing.
func (p *Processor) AssembledContent() string {
	return p.assembled.String()
}

// Grounding returns the most recent grounding metadata seen on the stream,
// or nil. Gemini delivers cumulative metadata, so the latest snapshot wins.
func (p *Processor) Grounding() *GroundingMetadata {
	return p.grounding
}

// Process consumes one normalized delta and returns the events it produces,
// in emission order. Within one delta, reasoning is always flushed and
// reasoning_finish emitted before any content, tool-call, or finish event.
func (p *Processor) Process(d UpstreamDelta) []models.StreamEvent {
	if p.state.FinishEmitted {
		return nil
	}

	reasoningIn := d.Reasoning
	contentIn := d.Content

	if d.Reasoning != "" {
		p.structuralReasoning = true
	}

	// Inline marker scanning applies only while the provider has never
	// delivered reasoning through a separate field; once it has, marker
	// text in the answer is literal.
	if p.cfg.DetectInlineTags && !p.structuralReasoning && contentIn != "" {
		var redirected string
		contentIn, redirected = p.detector.Feed(contentIn)
		reasoningIn += redirected
		p.state.InTagMode = p.detector.Inside()
	}

	var events []models.StreamEvent

	if reasoningIn != "" {
		p.state.AccumulatedReasoning += reasoningIn
		p.state.HadAnyReasoning = true
	}
	if n := len(p.state.AccumulatedReasoning); n > 0 &&
		(n >= p.cfg.MinReasoningFlush || strings.Contains(p.state.AccumulatedReasoning, "\n")) {
		events = append(events, p.flushReasoning()...)
	}

	if contentIn != "" {
		// Crossing from reasoning into content closes the reasoning phase
		// exactly once, before any content event. While still inside an
		// inline marker the content seen so far preceded the marker, so the
		// reasoning phase is not over yet.
		if !p.state.InTagMode {
			events = append(events, p.closeReasoningPhase()...)
		}

		p.state.AccumulatedContent += contentIn
		p.state.HadAnyContent = true
		p.assembled.WriteString(contentIn)

		if n := len(p.state.AccumulatedContent); n >= p.cfg.MinContentFlush ||
			strings.Contains(p.state.AccumulatedContent, "\n") {
			events = append(events, p.flushContent()...)
		}
	}

	if d.Grounding != nil {
		p.grounding = d.Grounding
	}

	if len(d.ToolCalls) > 0 || d.FinishReason != "" {
		// The stream is ending; a held-back marker prefix can no longer
		// become a marker and must not be lost.
		p.drainDetector()
		events = append(events, p.flushReasoning()...)
		events = append(events, p.closeReasoningPhase()...)
		events = append(events, p.flushContent()...)

		if len(d.ToolCalls) > 0 {
			events = append(events, models.ToolCallsChunkEvent(d.ToolCalls))
		}
		if d.FinishReason != "" {
			logrus.Infof("RID-%s: upstream finish_reason: %s", p.rid, d.FinishReason)
			events = append(events, models.FinishEvent(d.FinishReason))
			p.state.FinishEmitted = true
		}
	}

	return events
}

// drainDetector releases any held-back marker prefix into the accumulators,
// classified by the detector's current state.
func (p *Processor) drainDetector() {
	heldContent, heldReasoning := p.detector.Drain()
	if heldReasoning != "" {
		p.state.AccumulatedReasoning += heldReasoning
		p.state.HadAnyReasoning = true
	}
	if heldContent != "" {
		p.state.AccumulatedContent += heldContent
		p.state.HadAnyContent = true
		p.assembled.WriteString(heldContent)
	}
}

// flushReasoning emits the reasoning buffer as one event if non-empty.
func (p *Processor) flushReasoning() []models.StreamEvent {
	if p.state.AccumulatedReasoning == "" {
		return nil
	}
	ev := models.ReasoningEvent(p.state.AccumulatedReasoning)
	p.state.AccumulatedReasoning = ""
	return []models.StreamEvent{ev}
}

// closeReasoningPhase flushes pending reasoning and emits the single
// reasoning_finish event, guarded by the ReasoningFinishEmitted latch.
func (p *Processor) closeReasoningPhase() []models.StreamEvent {
	if !p.state.HadAnyReasoning || p.state.ReasoningFinishEmitted {
		return nil
	}
	events := p.flushReasoning()
	events = append(events, models.ReasoningFinishEvent())
	p.state.ReasoningFinishEmitted = true
	return events
}

// flushContent emits the content buffer as one event if non-empty.
func (p *Processor) flushContent() []models.StreamEvent {
	if p.state.AccumulatedContent == "" {
		return nil
	}
	ev := models.ContentEvent(p.state.AccumulatedContent)
	p.state.AccumulatedContent = ""
	return []models.StreamEvent{ev}
}
