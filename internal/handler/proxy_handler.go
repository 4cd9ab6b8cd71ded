package handler

import (
	"errors"
	"net/http"
	"strings"

	"chat-relay-go/pkg/llm"
	"chat-relay-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ProxyHandler 是无状态的单次补全代理，不读写会话存储。
type ProxyHandler struct {
	llmClient llm.Client
}

// NewProxyHandler 创建一个新的 ProxyHandler。
func NewProxyHandler(llmClient llm.Client) *ProxyHandler {
	return &ProxyHandler{llmClient: llmClient}
}

type proxyRequest struct {
	Message string `json:"message"`
	Model   string `json:"model"`
}

// Complete 处理 POST /api/chat，把单条用户消息转发给上游并原样返回上游的 JSON。
func (h *ProxyHandler) Complete(c *gin.Context) {
	var req proxyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if !h.llmClient.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream API key is not configured"})
		return
	}

	resp, err := h.llmClient.Complete(c.Request.Context(), llm.CompletionRequest{
		Model:    req.Model,
		Messages: []llm.Message{{Role: "user", Content: req.Message}},
	})
	if err != nil {
		log.Errorf("单次补全失败: %v", err)
		var ue *llm.UpstreamError
		if errors.As(err, &ue) && ue.StatusCode != 0 {
			c.JSON(ue.StatusCode, gin.H{"error": "upstream error: " + ue.Body})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
