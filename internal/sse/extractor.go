// Package sse turns raw upstream byte streams into discrete protocol frames.
//
// Two record framings are handled: newline-delimited lines (Gemini's alt=sse
// transport) and double-newline-delimited event blocks (OpenAI-compatible
// transport). Both extractors tolerate frames split across arbitrary network
// reads by retaining the trailing partial frame between Feed calls.
package sse

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// LineExtractor yields complete newline-terminated lines, stripping a
// trailing carriage return. Lines longer than MaxLineLength are dropped with
// a warning and never forwarded.
type LineExtractor struct {
	MaxLineLength int

	buf []byte
}

// Feed appends newly arrived bytes and returns every complete line now
// available. The returned slices are copies and remain valid after the next
// call.
func (e *LineExtractor) Feed(p []byte) [][]byte {
	e.buf = append(e.buf, p...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(e.buf, '\n')
		if i == -1 {
			break
		}
		line := e.buf[:i]
		e.buf = e.buf[i+1:]
		line = bytes.TrimSuffix(line, []byte("\r"))
		if e.MaxLineLength > 0 && len(line) > e.MaxLineLength {
			logrus.Warnf("SSE line too long (%d bytes > %d), line skipped. Starts with: %q",
				len(line), e.MaxLineLength, truncateBytes(line, 100))
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines
}

// Rest returns the retained partial line, if any.
func (e *LineExtractor) Rest() []byte {
	return e.buf
}

// BlockExtractor yields complete double-newline-delimited event blocks.
type BlockExtractor struct {
	MaxBlockLength int

	buf []byte
}

// Feed appends newly arrived bytes and returns every complete block now
// available. Blank blocks are skipped. The returned slices are copies.
func (e *BlockExtractor) Feed(p []byte) [][]byte {
	e.buf = append(e.buf, p...)

	var blocks [][]byte
	for {
		i := bytes.Index(e.buf, []byte("\n\n"))
		if i == -1 {
			break
		}
		block := e.buf[:i]
		e.buf = e.buf[i+2:]
		if len(bytes.TrimSpace(block)) == 0 {
			continue
		}
		if e.MaxBlockLength > 0 && len(block) > e.MaxBlockLength {
			logrus.Warnf("SSE block too long (%d bytes > %d), block skipped. Starts with: %q",
				len(block), e.MaxBlockLength, truncateBytes(block, 100))
			continue
		}
		blocks = append(blocks, append([]byte(nil), block...))
	}
	return blocks
}

// Rest returns the retained partial block, if any.
func (e *BlockExtractor) Rest() []byte {
	return e.buf
}

// DataPayload extracts the payload of a "data:"-prefixed line. The second
// return is false for non-data lines (comments, event fields, blanks).
func DataPayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(dataPrefix):]), true
}

// IsDone reports whether a data payload is the terminal "[DONE]" sentinel
// that signals normal completion of an OpenAI-compatible stream.
func IsDone(payload []byte) bool {
	return bytes.Equal(payload, doneSentinel)
}

// BlockDataPayloads splits an event block into lines and returns the
// payloads of all data lines, preserving order.
func BlockDataPayloads(block []byte) [][]byte {
	var payloads [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		if payload, ok := DataPayload(line); ok {
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
