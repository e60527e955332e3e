package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/models"
)

// Finalize runs the cleanup pass and must be called exactly once on every
// exit path (normal completion, upstream error, transport error,
// cancellation). It flushes buffered text, closes the reasoning phase if it
// was never closed, applies the citation pass, and guarantees the terminal
// finish event when no upstream finish reason already produced one.
//
// The caller decides whether the returned events can still be written; on a
// closed transport they are dropped, which releases the buffered state either
// way.
func (p *Processor) Finalize(upstreamOK bool) []models.StreamEvent {
	if p.finalized {
		return nil
	}
	p.finalized = true

	if p.state.FinishEmitted {
		// Terminal event already delivered by an upstream finish reason; the
		// buffers were flushed before it, so nothing may follow.
		return nil
	}

	// Release any held-back marker prefix before flushing.
	p.drainDetector()

	var events []models.StreamEvent
	events = append(events, p.flushReasoning()...)
	if p.state.HadAnyReasoning && !p.state.ReasoningFinishEmitted {
		logrus.Infof("RID-%s: cleanup: sending reasoning_finish event", p.rid)
		events = append(events, models.ReasoningFinishEvent())
		p.state.ReasoningFinishEmitted = true
	}
	events = append(events, p.flushContent()...)

	if annotated := SpliceCitations(p.assembled.String(), p.grounding); annotated != p.assembled.String() {
		logrus.Infof("RID-%s: citation-annotated answer: %s", p.rid, truncateString(annotated, 500))
		events = append(events, models.AnnotatedContentEvent(annotated))
	}

	reason := models.FinishStreamEnd
	if !upstreamOK {
		reason = models.FinishUpstreamError
	}
	logrus.Infof("RID-%s: cleanup: sending final finish event with reason %q", p.rid, reason)
	events = append(events, models.FinishEvent(reason))
	p.state.FinishEmitted = true

	return events
}

// StreamError converts a stream-level failure into the client-visible
// error + finish pair, flushing buffered text first so no received byte is
// lost. It latches FinishEmitted so the subsequent Finalize call emits
// nothing further. Cancellation is silent termination: it yields no events
// and leaves the finalizer to close out. Messages are bounded and never
// contain stack traces.
func (p *Processor) StreamError(err error) []models.StreamEvent {
	if err == nil || p.state.FinishEmitted {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		logrus.Infof("RID-%s: stream cancelled", p.rid)
		return nil
	}

	logrus.Errorf("RID-%s: stream error: %v", p.rid, err)

	var message string
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded):
		message = "Request to LLM API timed out."
	case errors.As(err, &netErr):
		message = fmt.Sprintf("Network error: %v", netErr)
	default:
		message = fmt.Sprintf("Stream processing error: %v", err)
	}
	if len(message) > 200 {
		message = message[:200]
	}

	var events []models.StreamEvent
	events = append(events, p.flushReasoning()...)
	if p.state.HadAnyReasoning && !p.state.ReasoningFinishEmitted {
		events = append(events, models.ReasoningFinishEvent())
		p.state.ReasoningFinishEmitted = true
	}
	events = append(events, p.flushContent()...)
	events = append(events,
		models.ErrorEvent(message),
		models.FinishEvent(models.FinishErrorInStream),
	)
	p.state.FinishEmitted = true
	return events
}
