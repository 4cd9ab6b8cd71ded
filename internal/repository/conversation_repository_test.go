package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"chat-relay-go/internal/model"
	"chat-relay-go/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chat.db") + "?_pragma=foreign_keys(1)"
	db, err := database.OpenGorm("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestRepo(t *testing.T) ConversationRepository {
	t.Helper()
	return NewConversationRepository(openTestDB(t))
}

func TestCreateAndListConversations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, err := repo.CreateConversation(ctx, "first")
	require.NoError(t, err)
	second, err := repo.CreateConversation(ctx, "second")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	convs, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, second, convs[0].ID)
	require.Equal(t, "second", convs[0].Title)
	require.Equal(t, first, convs[1].ID)
	require.False(t, convs[0].CreatedAt.IsZero())
}

func TestListConversations_EmptyIsNotNil(t *testing.T) {
	convs, err := newTestRepo(t).ListConversations(context.Background())
	require.NoError(t, err)
	require.NotNil(t, convs)
	require.Empty(t, convs)
}

func TestAppendAndListMessages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateConversation(ctx, "Hello")
	require.NoError(t, err)
	require.NoError(t, repo.AppendMessage(ctx, id, model.RoleUser, "Hello"))
	require.NoError(t, repo.AppendMessage(ctx, id, model.RoleAssistant, "Hi there!"))

	msgs, err := repo.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, "Hello", msgs[0].Content)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Hi there!", msgs[1].Content)
	require.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))

	// 没有写入时重复读取结果一致
	again, err := repo.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Equal(t, msgs, again)
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	err := newTestRepo(t).AppendMessage(context.Background(), 4242, model.RoleUser, "orphan")
	require.Error(t, err)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	require.Equal(t, "append message", se.Op)
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListMessages_UnknownConversation(t *testing.T) {
	msgs, err := newTestRepo(t).ListMessages(context.Background(), 99)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDeleteConversation_Cascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateConversation(ctx, "doomed")
	require.NoError(t, err)
	require.NoError(t, repo.AppendMessage(ctx, id, model.RoleUser, "a"))
	require.NoError(t, repo.AppendMessage(ctx, id, model.RoleAssistant, "b"))

	affected, err := repo.DeleteConversation(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	msgs, err := repo.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)

	convs, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Empty(t, convs)

	affected, err = repo.DeleteConversation(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 0, affected)
}

func TestRenameConversation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateConversation(ctx, "old")
	require.NoError(t, err)

	affected, err := repo.RenameConversation(ctx, id, "new title")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	// 标题未变化也视为存在
	affected, err = repo.RenameConversation(ctx, id, "new title")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	convs, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Equal(t, "new title", convs[0].Title)

	affected, err = repo.RenameConversation(ctx, id+100, "ghost")
	require.NoError(t, err)
	require.EqualValues(t, 0, affected)
}

func TestStorageError_Wrapping(t *testing.T) {
	base := errors.New("disk full")
	err := storageErr("create conversation", base)
	require.EqualError(t, err, "storage: create conversation: disk full")
	require.ErrorIs(t, err, base)

	// 已经是 StorageError 时不重复包装
	require.Same(t, err, storageErr("other", err))
	require.NoError(t, storageErr("noop", nil))
}

func TestStartConversation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.StartConversation(ctx, "Hello", "Hello")
	require.NoError(t, err)
	require.NotZero(t, id)

	msgs, err := repo.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, "Hello", msgs[0].Content)
}

func TestStartConversation_RollsBackOnMessageFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewConversationRepository(db)

	// 让 messages 表的插入失败
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_messages", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "messages" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err := repo.StartConversation(ctx, "Hello", "Hello")
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "start conversation", se.Op)

	convs, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	require.Empty(t, convs)
}
