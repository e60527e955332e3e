package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eztalk/eztalk-proxy/internal/extract"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/eztalk/eztalk-proxy/internal/models"
	"github.com/eztalk/eztalk-proxy/internal/stream"
	"github.com/eztalk/eztalk-proxy/internal/usage"
	"github.com/eztalk/eztalk-proxy/internal/websearch"
)

// uploadedPart is one multimodal upload staged in memory before conversion
// to the provider's wire shape.
type uploadedPart struct {
	mimeType string
	data     []byte
}

// handleChat accepts a multipart form with the chat_request_json field and
// optional uploaded_documents files, then streams normalized events back as
// newline-terminated JSON records.
func (s *Server) handleChat(c *gin.Context) {
	rid := uuid.NewString()

	maxBytes := int64(s.config().MaxDocumentUploadSizeMB) << 20
	if maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	}

	rawRequest := c.PostForm("chat_request_json")
	if rawRequest == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing chat_request_json form field"})
		return
	}

	var chatReq models.ChatRequest
	if err := json.Unmarshal([]byte(rawRequest), &chatReq); err != nil {
		logrus.Errorf("RID-%s: failed to parse chat request JSON: %v", rid, err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Invalid chat request data: %v", err)})
		return
	}
	if err := chatReq.Validate(); err != nil {
		logrus.Errorf("RID-%s: invalid chat request: %v", rid, err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("Invalid chat request data: %v", err)})
		return
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil && form != nil {
		files = form.File["uploaded_documents"]
	}
	logrus.Infof("RID-%s: received chat request for provider %q model %q with %d documents",
		rid, chatReq.Provider, chatReq.Model, len(files))

	docContext, multimodal := s.stageUploads(files, rid)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	if chatReq.IsGeminiModel() {
		logrus.Infof("RID-%s: dispatching to Gemini handler for model %s", rid, chatReq.Model)
		s.streamGemini(c, &chatReq, docContext, multimodal, rid)
	} else {
		logrus.Infof("RID-%s: dispatching to OpenAI-compatible handler for model %s", rid, chatReq.Model)
		s.streamOpenAI(c, &chatReq, docContext, multimodal, rid)
	}
}

// stageUploads reads every uploaded file into memory, splitting them into
// multimodal payloads (passed through as inline data) and documents whose
// text gets injected into the prompt. Per-file failures are logged and
// skipped.
func (s *Server) stageUploads(files []*multipart.FileHeader, rid string) (string, []uploadedPart) {
	var texts []string
	var multimodal []uploadedPart

	for _, fh := range files {
		mimeType := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
		data, err := readUpload(fh)
		if err != nil {
			logrus.Errorf("RID-%s: failed to read uploaded file %q: %v", rid, fh.Filename, err)
			continue
		}

		if isMultimodalMime(mimeType) {
			multimodal = append(multimodal, uploadedPart{mimeType: mimeType, data: data})
			logrus.Infof("RID-%s: staged multimodal file %q (%s, %d bytes)", rid, fh.Filename, mimeType, len(data))
			continue
		}

		text, err := extract.Text(data, mimeType, fh.Filename, s.config().MaxDocumentContentCharsForPrompt)
		if err != nil {
			logrus.Errorf("RID-%s: failed to extract text from %q: %v", rid, fh.Filename, err)
			continue
		}
		if text != "" {
			texts = append(texts, extract.WrapDocument(fh.Filename, text))
			logrus.Infof("RID-%s: extracted text from document %q", rid, fh.Filename)
		}
	}

	if len(texts) == 0 {
		return "", multimodal
	}
	joined := strings.Join(texts, "\n\n")
	return fmt.Sprintf("--- Document Content ---\n%s\n--- End Document ---\n\n", joined), multimodal
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// isMultimodalMime reports whether an upload is sent to the model as inline
// media instead of extracted text.
func isMultimodalMime(mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") ||
		strings.HasPrefix(mimeType, "audio/") ||
		strings.HasPrefix(mimeType, "video/") {
		return true
	}
	return mimeType == "application/mp4" || mimeType == "application/pdf"
}

// runSearch performs the pre-flight web search for providers without a
// native search tool, emitting status and result events. It returns the
// context block to inject, or empty when the search was skipped or failed.
func (s *Server) runSearch(c *gin.Context, ew *eventWriter, query, rid string) string {
	ew.Write(models.StatusUpdateEvent("Searching web..."))
	results, err := s.searchClient().Search(c.Request.Context(), query, rid)
	if err != nil {
		logrus.Errorf("RID-%s: web search failed, proceeding without search context: %v", rid, err)
		ew.Write(models.StatusUpdateEvent("Web search failed, answering directly..."))
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	ew.Write(models.WebSearchResultsEvent(results))
	ew.Write(models.StatusUpdateEvent("Answering..."))
	return websearch.RenderContext(query, results)
}

// processorConfig derives per-request processor settings from configuration.
// Inline marker detection only applies to providers that interleave
// reasoning with answer text.
func (s *Server) processorConfig(detectInlineTags bool) stream.Config {
	cfg := s.config()
	return stream.Config{
		MinReasoningFlush: cfg.MinReasoningFlushChunkSize,
		MinContentFlush:   cfg.MinContentFlushChunkSize,
		DetectInlineTags:  detectInlineTags,
		OpenTag:           cfg.ReasoningOpenTag,
		CloseTag:          cfg.ReasoningCloseTag,
	}
}

// requestError reports a failure that happened after the stream started,
// when an HTTP error status can no longer be sent.
func (s *Server) requestError(ew *eventWriter, rid string, err error) {
	logrus.Errorf("RID-%s: request preparation failed: %v", rid, err)
	message := fmt.Sprintf("Failed to prepare upstream request: %v", err)
	if len(message) > 200 {
		message = message[:200]
	}
	ew.Write(models.ErrorEvent(message))
	ew.Write(models.FinishEvent(models.FinishRequestError))
}

// finishRequest records metrics and usage accounting for a completed stream.
func (s *Server) finishRequest(providerLabel string, chatReq *models.ChatRequest, ew *eventWriter,
	proc *stream.Processor, rid string, started time.Time, searched bool) {

	reason := ew.finishReason
	if reason == "" {
		reason = "none"
	}
	metrics.RequestsTotal.WithLabelValues(providerLabel, reason).Inc()

	if s.usage == nil {
		return
	}
	record := &usage.Record{
		RequestID:     rid,
		Provider:      providerLabel,
		Model:         chatReq.Model,
		FinishReason:  reason,
		Events:        ew.events,
		Bytes:         ew.bytes,
		ContentTokens: usage.EstimateTokens(proc.AssembledContent()),
		WebSearchUsed: searched,
		LatencyMs:     int(time.Since(started).Milliseconds()),
	}
	if err := s.usage.Add(record); err != nil {
		logrus.Errorf("RID-%s: failed to record usage: %v", rid, err)
	}
}

// dataURI renders an upload as an OpenAI image_url data URI.
func (p uploadedPart) dataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.mimeType, base64.StdEncoding.EncodeToString(p.data))
}

// geminiPart renders an upload as a Gemini inlineData part.
func (p uploadedPart) geminiPart() map[string]interface{} {
	return map[string]interface{}{
		"inlineData": map[string]interface{}{
			"mimeType": p.mimeType,
			"data":     base64.StdEncoding.EncodeToString(p.data),
		},
	}
}

// openaiPart renders an upload as an OpenAI image_url content part.
func (p uploadedPart) openaiPart() map[string]interface{} {
	return map[string]interface{}{
		"type":      "image_url",
		"image_url": map[string]interface{}{"url": p.dataURI()},
	}
}
