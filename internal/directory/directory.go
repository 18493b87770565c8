// Package directory resolves chat and user display names. Resolution is
// best-effort: failures degrade to synthetic names and are never
// surfaced to callers.
package directory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatAPI is the slice of the Telegram client the directory needs.
type ChatAPI interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// Service resolves display names, caching chat titles per chat ID.
type Service struct {
	api   ChatAPI
	mu    sync.Mutex
	names map[int64]string
}

// New creates a directory over the given Telegram client.
func New(api ChatAPI) *Service {
	return &Service{
		api:   api,
		names: make(map[int64]string),
	}
}

// ChatName returns the chat's title, or "Chat_<id>" when the chat has no
// title or the lookup fails. Successful lookups are cached.
func (s *Service) ChatName(_ context.Context, chatID int64) string {
	s.mu.Lock()
	if name, ok := s.names[chatID]; ok {
		s.mu.Unlock()
		return name
	}
	s.mu.Unlock()

	chat, err := s.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		log.Printf("chat name lookup failed chat=%d: %v", chatID, err)
		return syntheticChatName(chatID)
	}
	name := chat.Title
	if name == "" {
		name = syntheticChatName(chatID)
	}

	s.mu.Lock()
	s.names[chatID] = name
	s.mu.Unlock()
	return name
}

// UserName returns the user's handle when set, otherwise the full name,
// otherwise "User_<id>".
func (s *Service) UserName(u *tgbotapi.User) string {
	if u == nil {
		return "User_0"
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return fmt.Sprintf("User_%d", u.ID)
}

func syntheticChatName(chatID int64) string {
	return fmt.Sprintf("Chat_%d", chatID)
}
