package handler

import (
	"chat-relay-go/internal/middleware"
	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

// RouteDeps 汇总注册路由所需的依赖。
type RouteDeps struct {
	ChatService         service.ChatService
	ConversationService service.ConversationService
	LLMClient           llm.Client
	// RateLimit 为空时不限流
	RateLimit    gin.HandlerFunc
	DebugDelayMS int
	StaticDir    string
}

// RegisterRoutes 在 r 上注册全部 API 路由与静态资源回退。
func RegisterRoutes(r *gin.Engine, deps RouteDeps) {
	chatHandler := NewChatHandler(deps.ChatService)
	wsHandler := NewWebSocketHandler(deps.ChatService)
	proxyHandler := NewProxyHandler(deps.LLMClient)
	conversationHandler := NewConversationHandler(deps.ConversationService)

	api := r.Group("/api")
	{
		// Conversation 路由组
		conversations := api.Group("/conversations")
		conversations.Use(middleware.DebugDelay(deps.DebugDelayMS))
		{
			conversations.GET("", conversationHandler.List)
			conversations.GET("/:id/messages", conversationHandler.Messages)
			conversations.DELETE("/:id", conversationHandler.Delete)
			conversations.PUT("/:id/title", conversationHandler.Rename)
		}

		// Chat 路由组
		chat := api.Group("/chat")
		if deps.RateLimit != nil {
			chat.Use(deps.RateLimit)
		}
		{
			chat.POST("", proxyHandler.Complete)
			chat.POST("/complete", chatHandler.Complete)
			chat.GET("/ws", wsHandler.Handle)
		}
	}

	r.NoRoute(staticFallback(deps.StaticDir))
}
