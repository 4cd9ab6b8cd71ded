package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"chat-relay-go/internal/service"
	"chat-relay-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// wsFrame 是服务端推送的消息，事件名与 SSE 协议一致。
type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsInbound 是客户端消息：{"type":"stop"} 或一轮对话请求。
type wsInbound struct {
	Type           string `json:"type"`
	ConversationID *uint  `json:"conversationId"`
	UserMessage    string `json:"userMessage"`
}

// wsSink 串行化同一连接上的写操作。
type wsSink struct {
	mu   *sync.Mutex
	conn *websocket.Conn
}

func (s wsSink) Emit(event string, data any) error {
	b, err := json.Marshal(wsFrame{Event: event, Data: data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// WebSocketHandler 通过 WebSocket 中继对话轮次，同一连接同时只运行一轮。
type WebSocketHandler struct {
	chatService service.ChatService
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler。
func NewWebSocketHandler(chatService service.ChatService) *WebSocketHandler {
	return &WebSocketHandler{chatService: chatService}
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *WebSocketHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	sink := wsSink{mu: &sync.Mutex{}, conn: conn}
	var (
		wg      sync.WaitGroup
		turnMu  sync.Mutex
		running bool
		stop    context.CancelFunc
	)
	// 连接断开时取消正在运行的轮次，并等待它退出
	connCtx, closeConn := context.WithCancel(context.Background())
	defer func() {
		closeConn()
		wg.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var in wsInbound
		if err := json.Unmarshal(message, &in); err != nil {
			_ = sink.Emit(service.EventError, service.ErrorPayload{Message: "invalid message"})
			continue
		}

		turnMu.Lock()
		if in.Type == "stop" {
			if running && stop != nil {
				log.Info("收到停止指令，正在中断流式响应...")
				stop()
			}
			turnMu.Unlock()
			continue
		}
		if running {
			turnMu.Unlock()
			_ = sink.Emit(service.EventError, service.ErrorPayload{Message: "a turn is already in progress"})
			continue
		}
		turnCtx, cancel := context.WithCancel(connCtx)
		running, stop = true, cancel
		turnMu.Unlock()

		req := service.TurnRequest{ConversationID: in.ConversationID, UserMessage: in.UserMessage}
		if req.ConversationID != nil && *req.ConversationID == 0 {
			req.ConversationID = nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				turnMu.Lock()
				running, stop = false, nil
				turnMu.Unlock()
				cancel()
			}()

			err := h.chatService.StreamTurn(turnCtx, req, sink)
			if err == nil {
				return
			}
			msg := clientMessage(err)
			if errors.Is(err, context.Canceled) && connCtx.Err() == nil {
				msg = "response stopped"
			}
			if emitErr := sink.Emit(service.EventError, service.ErrorPayload{Message: msg}); emitErr != nil {
				log.Warnf("无法向客户端发送 error 事件: %v", emitErr)
			}
		}()
	}
}
