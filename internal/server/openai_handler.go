package server

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/models"
	"github.com/eztalk/eztalk-proxy/internal/request"
	"github.com/eztalk/eztalk-proxy/internal/sse"
	"github.com/eztalk/eztalk-proxy/internal/stream"
)

// streamOpenAI proxies one request through the OpenAI-compatible path:
// double-newline-delimited SSE blocks in, normalized events out.
func (s *Server) streamOpenAI(c *gin.Context, chatReq *models.ChatRequest, docContext string, multimodal []uploadedPart, rid string) {
	started := time.Now()
	ew := newEventWriter(c.Writer, rid)
	proc := stream.NewProcessor(s.processorConfig(true), rid)

	searched := false
	defer func() {
		s.finishRequest("openai", chatReq, ew, proc, rid, started, searched)
	}()

	var extraParts []map[string]interface{}
	for _, part := range multimodal {
		extraParts = append(extraParts, part.openaiPart())
	}
	messages := request.ConvertMessagesOpenAI(chatReq.Messages, docContext, extraParts, rid)

	if userQuery := chatReq.LastUserText(); chatReq.UseWebSearch && userQuery != "" {
		if searchContext := s.runSearch(c, ew, userQuery, rid); searchContext != "" {
			messages = request.InjectSystemContext(messages, searchContext)
			searched = true
			logrus.Infof("RID-%s: injected web search context", rid)
		}
	}

	prepared, err := request.PrepareOpenAI(s.requestOptions(), chatReq, messages, rid)
	if err != nil {
		s.requestError(ew, rid, err)
		return
	}

	s.pumpUpstream(c, ew, proc, prepared, "openai", rid, false)
}

// requestOptions snapshots the configured upstream endpoints.
func (s *Server) requestOptions() request.Options {
	cfg := s.config()
	return request.Options{
		DefaultOpenAIBaseURL: cfg.DefaultOpenAIBaseURL,
		OpenAICompatiblePath: cfg.OpenAICompatiblePath,
		GoogleBaseURL:        cfg.GoogleAPIBaseURL,
		GoogleAPIKey:         cfg.GoogleAPIKey,
	}
}

// pumpUpstream performs the upstream call and drives the frame extractor,
// classifier, and processor until the stream ends. It owns the finalization
// contract: exactly one finish event on every path. gemini selects the
// line-delimited framing and candidate classifier.
func (s *Server) pumpUpstream(c *gin.Context, ew *eventWriter, proc *stream.Processor,
	prepared *request.Prepared, providerLabel, rid string, gemini bool) {

	upstreamOK := false
	defer func() {
		ew.WriteAll(proc.Finalize(upstreamOK))
	}()

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, prepared.URL, bytes.NewReader(prepared.Body))
	if err != nil {
		ew.WriteAll(proc.StreamError(err))
		return
	}
	for k, v := range prepared.Headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		ew.WriteAll(proc.StreamError(err))
		return
	}
	defer resp.Body.Close()
	metrics.UpstreamLatency.WithLabelValues(providerLabel).Observe(time.Since(started).Seconds())

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logrus.Errorf("RID-%s: upstream returned status %d: %s", rid, resp.StatusCode, snippet)
		return
	}
	upstreamOK = true

	if gemini {
		s.consumeLines(resp.Body, ew, proc, rid)
	} else {
		s.consumeBlocks(resp.Body, ew, proc, rid)
	}
}

// consumeBlocks drives an OpenAI-compatible SSE body until [DONE], EOF, or a
// terminal upstream finish reason.
func (s *Server) consumeBlocks(body io.Reader, ew *eventWriter, proc *stream.Processor, rid string) {
	extractor := &sse.BlockExtractor{MaxBlockLength: s.config().MaxSSELineLength}
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, block := range extractor.Feed(buf[:n]) {
				for _, payload := range sse.BlockDataPayloads(block) {
					if sse.IsDone(payload) {
						return
					}
					s.dispatchFrame(payload, ew, proc, rid, false)
					if proc.State().FinishEmitted {
						return
					}
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				ew.WriteAll(proc.StreamError(err))
			}
			return
		}
	}
}

// consumeLines drives a Gemini alt=sse body, which frames one JSON candidate
// chunk per data line.
func (s *Server) consumeLines(body io.Reader, ew *eventWriter, proc *stream.Processor, rid string) {
	extractor := &sse.LineExtractor{MaxLineLength: s.config().MaxSSELineLength}
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range extractor.Feed(buf[:n]) {
				payload, ok := sse.DataPayload(line)
				if !ok || len(payload) == 0 {
					continue
				}
				if sse.IsDone(payload) {
					return
				}
				s.dispatchFrame(payload, ew, proc, rid, true)
				if proc.State().FinishEmitted {
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				ew.WriteAll(proc.StreamError(err))
			}
			return
		}
	}
}

// dispatchFrame classifies one raw frame and feeds the resulting deltas to
// the processor, writing whatever events they produce.
func (s *Server) dispatchFrame(payload []byte, ew *eventWriter, proc *stream.Processor, rid string, gemini bool) {
	var deltas []stream.UpstreamDelta
	if gemini {
		deltas = stream.ClassifyGemini(payload, rid)
	} else {
		deltas = stream.ClassifyOpenAI(payload, rid)
	}
	if deltas == nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		return
	}
	for _, d := range deltas {
		ew.WriteAll(proc.Process(d))
	}
}
