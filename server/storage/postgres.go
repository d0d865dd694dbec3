package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gate4ai/chatstream/server/model"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var _ MessageStore = (*PostgresStore)(nil)

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS "ChatMessage" (
	id         BIGSERIAL PRIMARY KEY,
	"chatId"   TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	"createdAt" TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS "ChatMessage_chatId_idx" ON "ChatMessage" ("chatId", id);
`

// PostgresStore persists messages in PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore opens a connection pool for dsn. The schema is created by EnsureSchema.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return &PostgresStore{db: db, logger: logger.Named("storage")}, nil
}

// EnsureSchema creates the messages table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMessagesTable); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, chatID, role, content string) error {
	if chatID == "" {
		return ErrEmptyChatID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO "ChatMessage" ("chatId", role, content) VALUES ($1, $2, $3)`,
		chatID, role, content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	s.logger.Debug("Stored message", zap.String("chatId", chatID), zap.String("role", role), zap.Int("length", len(content)))
	return nil
}

func (s *PostgresStore) History(ctx context.Context, chatID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM "ChatMessage" WHERE "chatId" = $1 ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) Status(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("DB ping failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
