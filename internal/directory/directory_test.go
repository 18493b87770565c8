package directory

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeChatAPI struct {
	chats map[int64]tgbotapi.Chat
	err   error
	calls int
}

func (f *fakeChatAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	f.calls++
	if f.err != nil {
		return tgbotapi.Chat{}, f.err
	}
	return f.chats[cfg.ChatID], nil
}

func TestChatName(t *testing.T) {
	api := &fakeChatAPI{chats: map[int64]tgbotapi.Chat{
		7: {ID: 7, Title: "Equipo Norte"},
	}}
	svc := New(api)
	ctx := context.Background()

	if got := svc.ChatName(ctx, 7); got != "Equipo Norte" {
		t.Errorf("ChatName(7) = %q, want Equipo Norte", got)
	}

	// Second lookup is served from cache.
	svc.ChatName(ctx, 7)
	if api.calls != 1 {
		t.Errorf("GetChat called %d times, want 1", api.calls)
	}
}

func TestChatNameFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup error", func(t *testing.T) {
		svc := New(&fakeChatAPI{err: errors.New("forbidden")})
		if got := svc.ChatName(ctx, 42); got != "Chat_42" {
			t.Errorf("ChatName(42) = %q, want Chat_42", got)
		}
	})

	t.Run("untitled chat", func(t *testing.T) {
		svc := New(&fakeChatAPI{chats: map[int64]tgbotapi.Chat{9: {ID: 9}}})
		if got := svc.ChatName(ctx, 9); got != "Chat_9" {
			t.Errorf("ChatName(9) = %q, want Chat_9", got)
		}
	})
}

func TestChatNameErrorNotCached(t *testing.T) {
	api := &fakeChatAPI{err: errors.New("timeout")}
	svc := New(api)
	ctx := context.Background()

	svc.ChatName(ctx, 1)

	// Once the API recovers, the real title comes through.
	api.err = nil
	api.chats = map[int64]tgbotapi.Chat{1: {ID: 1, Title: "Ventas"}}
	if got := svc.ChatName(ctx, 1); got != "Ventas" {
		t.Errorf("ChatName(1) after recovery = %q, want Ventas", got)
	}
}

func TestUserName(t *testing.T) {
	svc := New(&fakeChatAPI{})

	tests := []struct {
		name string
		user *tgbotapi.User
		want string
	}{
		{"handle preferred", &tgbotapi.User{ID: 1, UserName: "ana", FirstName: "Ana"}, "@ana"},
		{"full name", &tgbotapi.User{ID: 2, FirstName: "Ana", LastName: "García"}, "Ana García"},
		{"first name only", &tgbotapi.User{ID: 3, FirstName: "Ana"}, "Ana"},
		{"last name only", &tgbotapi.User{ID: 4, LastName: "García"}, "García"},
		{"no names", &tgbotapi.User{ID: 5}, "User_5"},
		{"nil user", nil, "User_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.UserName(tt.user); got != tt.want {
				t.Errorf("UserName() = %q, want %q", got, tt.want)
			}
		})
	}
}
