// Package storage persists chat messages written by the stream producer.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/gate4ai/chatstream/server/model"
)

var ErrEmptyChatID = errors.New("chat id is empty")

// MessageStore persists conversation turns.
type MessageStore interface {
	Store(ctx context.Context, chatID, role, content string) error
	History(ctx context.Context, chatID string) ([]model.Message, error)
	Status(ctx context.Context) error
	Close() error
}

var _ MessageStore = (*MemoryStore)(nil)

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string][]model.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string][]model.Message)}
}

func (s *MemoryStore) Store(ctx context.Context, chatID, role, content string) error {
	if chatID == "" {
		return ErrEmptyChatID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = append(s.chats[chatID], model.Message{Role: role, Content: content})
	return nil
}

// History returns a copy of the messages stored for chatID in insertion order.
func (s *MemoryStore) History(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.chats[chatID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Status(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
