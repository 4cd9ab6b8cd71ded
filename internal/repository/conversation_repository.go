// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"

	"chat-relay-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了会话与消息的持久化操作。
// 所有失败都以 *StorageError 返回。
type ConversationRepository interface {
	// CreateConversation 创建会话并返回新分配的 ID。
	CreateConversation(ctx context.Context, title string) (uint, error)
	// StartConversation 在同一事务中创建会话并写入第一条用户消息，失败时两者都不保留。
	StartConversation(ctx context.Context, title, firstMessage string) (uint, error)
	// AppendMessage 追加一条消息，会话不存在时返回包装了 ErrConversationNotFound 的错误。
	AppendMessage(ctx context.Context, conversationID uint, role model.Role, content string) error
	// ListMessages 按时间升序返回会话的全部消息，未知会话返回空列表。
	ListMessages(ctx context.Context, conversationID uint) ([]model.Message, error)
	// ListConversations 按创建时间降序返回全部会话。
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	// DeleteConversation 删除会话及其消息，返回受影响的会话数（0 或 1）。
	DeleteConversation(ctx context.Context, conversationID uint) (int64, error)
	// RenameConversation 更新会话标题，返回受影响的会话数（0 或 1）。
	RenameConversation(ctx context.Context, conversationID uint, title string) (int64, error)
}

// gormConversationRepository 是 ConversationRepository 的 GORM 实现，支持 SQLite 与 MySQL。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个基于 GORM 的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// CreateConversation 在数据库中创建一个新会话。
func (r *gormConversationRepository) CreateConversation(ctx context.Context, title string) (uint, error) {
	conv := model.Conversation{Title: title}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return 0, storageErr("create conversation", err)
	}
	return conv.ID, nil
}

// StartConversation 在一个事务中创建会话与首条用户消息。
func (r *gormConversationRepository) StartConversation(ctx context.Context, title, firstMessage string) (uint, error) {
	conv := model.Conversation{Title: title}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		msg := model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: firstMessage}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return 0, storageErr("start conversation", err)
	}
	return conv.ID, nil
}

// AppendMessage 在同一事务中确认会话存在并写入消息。
// 不依赖具体引擎是否开启了外键检查。
func (r *gormConversationRepository) AppendMessage(ctx context.Context, conversationID uint, role model.Role, content string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrConversationNotFound
		}
		msg := model.Message{ConversationID: conversationID, Role: role, Content: content}
		return tx.Create(&msg).Error
	})
	return storageErr("append message", err)
}

// ListMessages 获取会话的消息历史，时间相同时按 ID 排序保证稳定。
func (r *gormConversationRepository) ListMessages(ctx context.Context, conversationID uint) ([]model.Message, error) {
	messages := []model.Message{}
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

// ListConversations 获取所有会话，最新的在前。
func (r *gormConversationRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	conversations := []model.Conversation{}
	err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&conversations).Error
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	return conversations, nil
}

// DeleteConversation 删除会话，并在同一事务中显式删除其消息。
func (r *gormConversationRepository) DeleteConversation(ctx context.Context, conversationID uint) (int64, error) {
	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Conversation{}, conversationID)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, storageErr("delete conversation", err)
	}
	return affected, nil
}

// RenameConversation 更新会话标题。
func (r *gormConversationRepository) RenameConversation(ctx context.Context, conversationID uint, title string) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Conversation{}).Where("id = ?", conversationID).Update("title", title)
	if res.Error != nil {
		return 0, storageErr("rename conversation", res.Error)
	}
	if res.RowsAffected > 0 {
		return res.RowsAffected, nil
	}
	// MySQL 对值未变化的行返回 0，需要再确认会话是否存在
	var count int64
	if err := db.Model(&model.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return 0, storageErr("rename conversation", err)
	}
	return count, nil
}
