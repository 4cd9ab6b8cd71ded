package service

import (
	"context"
	"strings"

	"chat-relay-go/internal/model"
	"chat-relay-go/internal/repository"
)

// ConversationService 定义了会话管理的业务逻辑接口。
type ConversationService interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID uint) ([]model.Message, error)
	DeleteConversation(ctx context.Context, conversationID uint) error
	RenameConversation(ctx context.Context, conversationID uint, title string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// ListConversations 返回全部会话，最新的在前。
func (s *conversationService) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.repo.ListConversations(ctx)
}

// ListMessages 返回会话的完整消息历史，未知会话返回空列表。
func (s *conversationService) ListMessages(ctx context.Context, conversationID uint) ([]model.Message, error) {
	return s.repo.ListMessages(ctx, conversationID)
}

// DeleteConversation 删除会话及其全部消息。
func (s *conversationService) DeleteConversation(ctx context.Context, conversationID uint) error {
	affected, err := s.repo.DeleteConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return nil
}

// RenameConversation 更新会话标题，标题去除空白后不能为空（保存原始值）。
func (s *conversationService) RenameConversation(ctx context.Context, conversationID uint, title string) error {
	if strings.TrimSpace(title) == "" {
		return &ValidationError{Field: "title", Message: "title is required and must be a non-empty string"}
	}
	affected, err := s.repo.RenameConversation(ctx, conversationID, title)
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Resource: "conversation", ID: conversationID}
	}
	return nil
}
