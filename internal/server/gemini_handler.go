package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eztalk/eztalk-proxy/internal/models"
	"github.com/eztalk/eztalk-proxy/internal/request"
	"github.com/eztalk/eztalk-proxy/internal/stream"
)

// streamGemini proxies one request through the Gemini REST path. Reasoning
// arrives structurally via thought-flagged parts, so inline marker detection
// is off unless the request forces it; web search goes through the native
// googleSearch tool and citation metadata instead of the pre-flight search.
func (s *Server) streamGemini(c *gin.Context, chatReq *models.ChatRequest, docContext string, multimodal []uploadedPart, rid string) {
	started := time.Now()
	ew := newEventWriter(c.Writer, rid)
	proc := stream.NewProcessor(s.processorConfig(chatReq.ForceCustomReasoning), rid)

	defer func() {
		s.finishRequest("gemini", chatReq, ew, proc, rid, started, chatReq.UseWebSearch)
	}()

	var extraParts []map[string]interface{}
	for _, part := range multimodal {
		extraParts = append(extraParts, part.geminiPart())
	}

	prepared, err := request.PrepareGemini(s.requestOptions(), chatReq, docContext, extraParts, rid)
	if err != nil {
		s.requestError(ew, rid, err)
		return
	}

	if chatReq.UseWebSearch {
		ew.Write(models.StatusUpdateEvent("Searching and answering..."))
	}

	s.pumpUpstream(c, ew, proc, prepared, "gemini", rid, true)
}
