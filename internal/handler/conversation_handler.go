package handler

import (
	"net/http"
	"strconv"

	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理与会话管理相关的 API 请求。
type ConversationHandler struct {
	service service.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type renameRequest struct {
	Title string `json:"title"`
}

// List 返回全部会话，最新的在前。
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.service.ListConversations(c.Request.Context())
	if err != nil {
		log.Error("ListConversations: failed", err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// Messages 返回会话的消息历史。
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	messages, err := h.service.ListMessages(c.Request.Context(), id)
	if err != nil {
		log.Errorf("ListMessages: conversation %d: %v", id, err)
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Delete 删除会话及其消息。
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteConversation(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation deleted"})
}

// Rename 更新会话标题。
func (h *ConversationHandler) Rename(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required and must be a non-empty string"})
		return
	}
	if err := h.service.RenameConversation(c.Request.Context(), id, req.Title); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation title updated"})
}

func conversationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}
