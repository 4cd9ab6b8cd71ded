package repository

import (
	"context"
	"errors"

	"chat-relay-go/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

// postgresConversationRepository 是 ConversationRepository 的 PostgreSQL 实现，
// 表结构由 pkg/database 中的迁移文件维护。
type postgresConversationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationRepository 创建一个基于 pgx 连接池的 ConversationRepository 实例。
func NewPostgresConversationRepository(pool *pgxpool.Pool) ConversationRepository {
	return &postgresConversationRepository{pool: pool}
}

func (r *postgresConversationRepository) CreateConversation(ctx context.Context, title string) (uint, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (title) VALUES ($1) RETURNING id`, title,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create conversation", err)
	}
	return uint(id), nil
}

func (r *postgresConversationRepository) StartConversation(ctx context.Context, title, firstMessage string) (uint, error) {
	var id int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO conversations (title) VALUES ($1) RETURNING id`, title,
		).Scan(&id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (conversation_id, role, content) VALUES ($1, $2, $3)`,
			id, string(model.RoleUser), firstMessage,
		)
		return err
	})
	if err != nil {
		return 0, storageErr("start conversation", err)
	}
	return uint(id), nil
}

func (r *postgresConversationRepository) AppendMessage(ctx context.Context, conversationID uint, role model.Role, content string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (conversation_id, role, content) VALUES ($1, $2, $3)`,
		int64(conversationID), string(role), content,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return storageErr("append message", ErrConversationNotFound)
		}
		return storageErr("append message", err)
	}
	return nil
}

func (r *postgresConversationRepository) ListMessages(ctx context.Context, conversationID uint) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, timestamp
		 FROM messages WHERE conversation_id = $1
		 ORDER BY timestamp ASC, id ASC`, int64(conversationID),
	)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var (
			m        model.Message
			id, conv int64
			role     string
		)
		if err := rows.Scan(&id, &conv, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, storageErr("list messages", err)
		}
		m.ID, m.ConversationID, m.Role = uint(id), uint(conv), model.Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

func (r *postgresConversationRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, created_at FROM conversations ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	conversations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Conversation, error) {
		var (
			c  model.Conversation
			id int64
		)
		err := row.Scan(&id, &c.Title, &c.CreatedAt)
		c.ID = uint(id)
		return c, err
	})
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	return conversations, nil
}

// DeleteConversation 依赖外键 ON DELETE CASCADE 清理消息。
func (r *postgresConversationRepository) DeleteConversation(ctx context.Context, conversationID uint) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, int64(conversationID))
	if err != nil {
		return 0, storageErr("delete conversation", err)
	}
	return tag.RowsAffected(), nil
}

func (r *postgresConversationRepository) RenameConversation(ctx context.Context, conversationID uint, title string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE conversations SET title = $1 WHERE id = $2`, title, int64(conversationID))
	if err != nil {
		return 0, storageErr("rename conversation", err)
	}
	return tag.RowsAffected(), nil
}
