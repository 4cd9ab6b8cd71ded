// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责通过 SSE 中继对话轮次。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// sseSink 在第一个事件时写入流式响应头，之后每个事件写完立即 flush。
type sseSink struct {
	c       *gin.Context
	started bool
}

func (s *sseSink) Emit(event string, data any) error {
	ctx := s.c.Request.Context()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.started {
		h := s.c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.c.Status(http.StatusOK)
		s.started = true
	}
	s.c.SSEvent(event, data)
	s.c.Writer.Flush()
	return ctx.Err()
}

// Complete 处理 POST /api/chat/complete。
// 流开始之前的错误以 JSON 返回，之后的错误以一个 error 事件结束响应。
func (h *ChatHandler) Complete(c *gin.Context) {
	var req service.TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ConversationID != nil && *req.ConversationID == 0 {
		req.ConversationID = nil
	}

	sink := &sseSink{c: c}
	err := h.chatService.StreamTurn(c.Request.Context(), req, sink)
	if err == nil {
		return
	}
	if !sink.started {
		abortWithError(c, err)
		return
	}

	log.Errorf("对话流中断: %v", err)
	if emitErr := sink.Emit(service.EventError, service.ErrorPayload{Message: clientMessage(err)}); emitErr != nil {
		log.Warnf("无法向客户端发送 error 事件: %v", emitErr)
	}
}
