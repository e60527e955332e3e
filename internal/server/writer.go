package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/models"
)

// eventWriter serializes stream events onto the client connection as
// newline-terminated JSON records, flushing after every record so the client
// sees text as it arrives.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rid     string

	events       int
	bytes        int64
	finishReason string
	failed       bool
}

func newEventWriter(w http.ResponseWriter, rid string) *eventWriter {
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher, rid: rid}
}

// Write delivers one event. Write failures latch the writer; subsequent
// events are counted but not sent, so bookkeeping survives a client
// disconnect.
func (ew *eventWriter) Write(ev models.StreamEvent) {
	ew.events++
	metrics.EventsTotal.WithLabelValues(ev.Type).Inc()
	if ev.Type == models.EventFinish {
		ew.finishReason = ev.Reason
	}

	if ew.failed {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		logrus.Errorf("RID-%s: marshal stream event: %v", ew.rid, err)
		return
	}
	line = append(line, '\n')
	if _, err := ew.w.Write(line); err != nil {
		logrus.Warnf("RID-%s: client write failed, dropping remaining events: %v", ew.rid, err)
		ew.failed = true
		return
	}
	ew.bytes += int64(len(line))
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
}

// WriteAll delivers events in order.
func (ew *eventWriter) WriteAll(events []models.StreamEvent) {
	for _, ev := range events {
		ew.Write(ev)
	}
}
