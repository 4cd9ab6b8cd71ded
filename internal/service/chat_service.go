// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"chat-relay-go/internal/model"
	"chat-relay-go/internal/repository"
	"chat-relay-go/pkg/kafka"
	"chat-relay-go/pkg/llm"
	"chat-relay-go/pkg/log"
	"chat-relay-go/pkg/tasks"
)

// 中继协议中的事件名。
const (
	EventConversationID         = "conversationId"
	EventNewConversationCreated = "newConversationCreated"
	EventChunk                  = "chunk"
	EventError                  = "error"
	EventEnd                    = "end"
)

const (
	titleMaxRunes  = 40
	publishTimeout = 5 * time.Second
)

// ChunkPayload 是 chunk 事件的数据。
type ChunkPayload struct {
	Content string `json:"content"`
}

// ErrorPayload 是 error 事件的数据。
type ErrorPayload struct {
	Message string `json:"message"`
}

// TurnRequest 是一次对话轮次的输入，ConversationID 为空表示新建会话。
type TurnRequest struct {
	ConversationID *uint  `json:"conversationId"`
	UserMessage    string `json:"userMessage"`
}

// EventSink 接收按顺序产生的中继事件，由传输层（SSE 或 WebSocket）实现。
type EventSink interface {
	Emit(event string, data any) error
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// StreamTurn 执行一轮对话。第一个事件发出之前返回的错误不会产生任何事件；
	// 之后的错误由调用方转换为 error 事件。
	StreamTurn(ctx context.Context, req TurnRequest, sink EventSink) error
}

type chatService struct {
	conversationRepo repository.ConversationRepository
	llmClient        llm.Client
	publisher        kafka.Publisher
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(conversationRepo repository.ConversationRepository, llmClient llm.Client, publisher kafka.Publisher) ChatService {
	return &chatService{
		conversationRepo: conversationRepo,
		llmClient:        llmClient,
		publisher:        publisher,
	}
}

// StreamTurn 校验输入、持久化用户消息、转发上游分块，并在上游成功结束后保存完整回复。
func (s *chatService) StreamTurn(ctx context.Context, req TurnRequest, sink EventSink) error {
	turn := newTurnMachine()
	if err := turn.fire(triggerReceive); err != nil {
		return err
	}

	if strings.TrimSpace(req.UserMessage) == "" {
		_ = turn.fire(triggerReject)
		return &ValidationError{Field: "userMessage", Message: "userMessage is required"}
	}
	if !s.llmClient.Configured() {
		_ = turn.fire(triggerReject)
		return ErrUpstreamNotConfigured
	}
	if err := turn.fire(triggerAccept); err != nil {
		return err
	}

	err := s.runTurn(ctx, turn, req, sink)
	if err != nil && turn.state() != stateEnded {
		// 流中途失败意味着客户端已收到部分分块
		midStream := turn.inStream()
		if ferr := turn.fire(triggerFail); ferr != nil {
			log.Warnf("turn %s: %v", turn.id, ferr)
		}
		log.Warnw("turn failed", "turn", turn.id, "midStream", midStream, "error", err)
	}
	return err
}

func (s *chatService) runTurn(ctx context.Context, turn *turnMachine, req TurnRequest, sink EventSink) error {
	// 1-2. 在调用上游之前保存用户消息；新会话与首条消息在同一事务中创建
	var (
		conversationID uint
		created        bool
	)
	if req.ConversationID == nil {
		id, err := s.conversationRepo.StartConversation(ctx, makeTitle(req.UserMessage), req.UserMessage)
		if err != nil {
			return err
		}
		conversationID, created = id, true
	} else {
		conversationID = *req.ConversationID
		if err := s.conversationRepo.AppendMessage(ctx, conversationID, model.RoleUser, req.UserMessage); err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				return &NotFoundError{Resource: "conversation", ID: conversationID}
			}
			return err
		}
	}

	// 3. 流从这里开始
	if err := sink.Emit(EventConversationID, conversationID); err != nil {
		return err
	}
	if err := sink.Emit(EventNewConversationCreated, created); err != nil {
		return err
	}
	if err := turn.fire(triggerUserPersisted); err != nil {
		return err
	}

	// 4. 以完整历史调用上游
	history, err := s.conversationRepo.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}
	llmMsgs := make([]llm.Message, 0, len(history))
	for _, m := range history {
		llmMsgs = append(llmMsgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	stream, err := s.llmClient.StreamCompletion(ctx, llmMsgs)
	if err != nil {
		return err
	}
	defer stream.Close()

	// 5. 转发分块并累积完整回复
	answer := &strings.Builder{}
	fragments := 0
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if fragment == "" {
			continue
		}
		answer.WriteString(fragment)
		fragments++
		if err := turn.fire(triggerChunk); err != nil {
			return err
		}
		if err := sink.Emit(EventChunk, ChunkPayload{Content: fragment}); err != nil {
			return err
		}
	}
	if answer.Len() == 0 {
		return &llm.UpstreamError{Err: llm.ErrMissingCompletion}
	}
	if err := turn.fire(triggerUpstreamDone); err != nil {
		return err
	}

	// 6. 上游已完整结束，即使客户端此时断开也保存回复
	fullAnswer := answer.String()
	if err := s.conversationRepo.AppendMessage(context.WithoutCancel(ctx), conversationID, model.RoleAssistant, fullAnswer); err != nil {
		return err
	}
	if err := turn.fire(triggerAssistantPersisted); err != nil {
		return err
	}
	log.Infow("turn completed", "turn", turn.id, "conversationId", conversationID, "fragments", fragments)

	if err := sink.Emit(EventEnd, struct{}{}); err != nil {
		return err
	}

	s.publishTurn(ctx, tasks.TurnCompletedEvent{
		TurnID:           turn.id,
		ConversationID:   conversationID,
		NewConversation:  created,
		UserMessage:      req.UserMessage,
		AssistantMessage: fullAnswer,
		Fragments:        fragments,
		CompletedAt:      time.Now().UTC(),
	})
	return nil
}

// publishTurn 发布失败只记录日志，不影响已经完成的轮次。
func (s *chatService) publishTurn(ctx context.Context, event tasks.TurnCompletedEvent) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishTurn(pubCtx, event); err != nil {
		log.Errorf("发布对话事件失败: turn=%s, err=%v", event.TurnID, err)
	}
}

// makeTitle 取消息的前 40 个字符，超出时追加 "..."。
func makeTitle(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxRunes {
		return message
	}
	return string(runes[:titleMaxRunes]) + "..."
}
