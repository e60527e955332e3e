package stream

import "strings"

// Default inline reasoning markers. Several providers wrap model thinking in
// these tags inside the answer-text field instead of a separate field.
const (
	DefaultOpenTag  = "<think>"
	DefaultCloseTag = "</think>"
)

// TagDetector tracks whether the stream is currently inside an inline
// reasoning marker pair, even when a marker is split across fragment
// boundaries. A potential marker prefix at the tail of a fragment is held
// back until the next fragment resolves it.
//
// After a closing marker the trailing text is re-scanned once for a new
// opening marker. Nested markers are not supported: an opening marker seen
// while already inside is treated as literal reasoning text.
type TagDetector struct {
	open   string
	close  string
	inside bool
	held   string
}

// NewTagDetector builds a detector for the given marker pair; empty
// arguments fall back to the <think> defaults.
func NewTagDetector(open, close string) *TagDetector {
	if open == "" {
		open = DefaultOpenTag
	}
	if close == "" {
		close = DefaultCloseTag
	}
	return &TagDetector{open: open, close: close}
}

// Inside reports whether the detector is currently within a marker pair.
func (d *TagDetector) Inside() bool {
	return d.inside
}

// Feed consumes one answer-text fragment and splits it into the portion that
// is answer text and the portion that is reasoning, updating marker state.
func (d *TagDetector) Feed(fragment string) (content, reasoning string) {
	s := d.held + fragment
	d.held = ""

	var contentB, reasoningB strings.Builder
	for s != "" {
		if !d.inside {
			if i := strings.Index(s, d.open); i >= 0 {
				contentB.WriteString(s[:i])
				s = s[i+len(d.open):]
				d.inside = true
				continue
			}
			keep := len(s) - overlap(s, d.open)
			contentB.WriteString(s[:keep])
			d.held = s[keep:]
			break
		}

		if i := strings.Index(s, d.close); i >= 0 {
			reasoningB.WriteString(s[:i])
			s = s[i+len(d.close):]
			d.inside = false
			continue
		}
		keep := len(s) - overlap(s, d.close)
		reasoningB.WriteString(s[:keep])
		d.held = s[keep:]
		break
	}
	return contentB.String(), reasoningB.String()
}

// Drain releases any held-back marker prefix at end of stream, classified by
// the current state. Call once when no more fragments will arrive.
func (d *TagDetector) Drain() (content, reasoning string) {
	held := d.held
	d.held = ""
	if held == "" {
		return "", ""
	}
	if d.inside {
		return "", held
	}
	return held, ""
}

// overlap returns the length of the longest suffix of s that is a proper
// prefix of marker, i.e. the bytes that might become a marker once the next
// fragment arrives.
func overlap(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}
