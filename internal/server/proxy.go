package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wxai-gateway/agent-gateway/internal/iam"
	"github.com/wxai-gateway/agent-gateway/internal/models"
	"github.com/wxai-gateway/agent-gateway/internal/translator"
	"github.com/wxai-gateway/agent-gateway/internal/watsonx"
	"go.uber.org/zap"
)

// ThreadIDHeader carries the conversation thread id when extra_body does not.
const ThreadIDHeader = "X-IBM-THREAD-ID"

// chatCompletions handles the chat completion request
func (s *Server) chatCompletions(c *gin.Context) {
	start := time.Now()

	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("Invalid request: "+err.Error(), "invalid_request_error", "invalid_request"))
		return
	}

	threadID := resolveThreadID(req.ExtraBody, c.GetHeader(ThreadIDHeader))

	s.logger.Info("Chat completion request",
		zap.String("thread_id", threadID),
		zap.Bool("stream", req.Stream),
		zap.Int("messages", len(req.Messages)))

	if req.Stream {
		status := s.handleStreamResponse(c, &req, threadID)
		s.metrics.RecordRequest("stream", status, time.Since(start))
		return
	}

	status := s.handleNormalResponse(c, &req)
	s.metrics.RecordRequest("sync", status, time.Since(start))
}

// resolveThreadID prefers a non-empty extra_body.thread_id over the header.
func resolveThreadID(extra *models.ExtraBody, header string) string {
	if extra != nil && extra.ThreadID != nil && *extra.ThreadID != "" {
		return *extra.ThreadID
	}
	return header
}

func (s *Server) handleNormalResponse(c *gin.Context, req *models.ChatCompletionRequest) string {
	replies, err := s.upstream.RunSync(c.Request.Context(), req.Messages)
	if err != nil {
		return s.writeError(c, err)
	}
	if len(replies) == 0 {
		return s.writeError(c, &watsonx.UpstreamError{Detail: "response has no messages"})
	}

	last := replies[len(replies)-1]
	c.JSON(http.StatusOK, models.ChatCompletionResponse{
		ID:      uuid.New().String(),
		Object:  models.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   s.cfg.Upstream.ModelLabel,
		Choices: []models.Choice{{
			Index: 0,
			Message: models.MessageResponse{
				Role:    models.RoleAssistant,
				Content: last.Text(),
			},
			FinishReason: "stop",
		}},
	})
	return "ok"
}

func (s *Server) handleStreamResponse(c *gin.Context, req *models.ChatCompletionRequest, threadID string) string {
	ctx := c.Request.Context()

	src, err := s.upstream.RunStream(ctx, req.Messages)
	if err != nil {
		return s.writeError(c, err)
	}

	opts := []translator.Option{
		translator.WithModel(s.cfg.Upstream.ModelLabel),
		translator.WithLogger(s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, translator.WithRecorder(s.metrics))
	}
	stream := translator.New(src, threadID, opts...)
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	status := "ok"
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Client disconnected", zap.String("thread_id", threadID))
			return "canceled"
		default:
		}

		frame, ok := stream.Next()
		if !ok {
			return status
		}
		if strings.HasPrefix(frame, "Error: ") {
			status = "error"
		}

		if _, err := io.WriteString(c.Writer, frame); err != nil {
			s.logger.Warn("Failed to write frame", zap.String("thread_id", threadID), zap.Error(err))
			return "canceled"
		}
		c.Writer.Flush()
	}
}

// writeError maps a handler error onto an HTTP error response and returns
// the metrics status label.
func (s *Server) writeError(c *gin.Context, err error) string {
	var authErr *iam.AuthError
	var upErr *watsonx.UpstreamError

	switch {
	case errors.As(err, &authErr):
		s.logger.Error("IAM token exchange failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.NewError(err.Error(), "auth_error", "iam_token_failed"))
	case errors.As(err, &upErr):
		s.logger.Error("AI service call failed", zap.Int("upstream_status", upErr.StatusCode), zap.Error(err))
		c.JSON(http.StatusBadGateway, models.NewError(err.Error(), "upstream_error", "ai_service_error"))
	default:
		s.logger.Error("Chat completion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.NewError(err.Error(), "internal_error", ""))
	}
	return "error"
}
