package v1

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dolores18/api-manager/internal/gateway"
	"github.com/Dolores18/api-manager/internal/server/middleware"
	"github.com/Dolores18/api-manager/internal/server/validator"
	"github.com/Dolores18/api-manager/pkg/api"
)

type ChatHandler struct {
	service gateway.Service
}

func NewChatHandler(service gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

func requestMeta(c *gin.Context) gateway.RequestMeta {
	return gateway.RequestMeta{
		RequestID: c.GetString(middleware.RequestIDKey),
		ClientIP:  c.ClientIP(),
	}
}

// CreateCompletion is the single caller-facing entry point. Callers name a
// model; which upstream account serves it is the router's business.
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req, requestMeta(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, req *api.ChatRequest) {
	streamChan, err := h.service.StreamChat(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			return false
		}

		if result.Err != nil {
			// the stream broke mid-flight; surface it as a terminal event
			_, _ = fmt.Fprintf(w, "data: {\"error\": %q}\n\n", result.Err.Error())
			return false
		}

		// upstream lines arrive with their "data: " prefix intact
		if _, err := fmt.Fprintf(w, "%s\n\n", result.Data); err != nil {
			return false
		}
		return true
	})
}
