package flow

import (
	"context"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Downloader fetches a Telegram file payload by file ID.
type Downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// UserNamer resolves a user's display name. Never fails.
type UserNamer interface {
	UserName(u *tgbotapi.User) string
}

const helpText = `Comandos:
/asistencia — registra tu asistencia con una foto y un texto
/indicadores — envía tu reporte de indicadores y archivos
/listo — termina el envío de archivos
/cancelar — descarta el registro en curso`

// Router classifies Telegram updates into events and forwards them to
// the machine. It performs no session logic beyond checking whether a
// session exists before paying for a payload download.
type Router struct {
	machine *Machine
	files   Downloader
	names   UserNamer
	notify  Notifier
}

// NewRouter creates a router over the given machine and transport
// collaborators.
func NewRouter(machine *Machine, files Downloader, names UserNamer, notify Notifier) *Router {
	return &Router{
		machine: machine,
		files:   files,
		names:   names,
		notify:  notify,
	}
}

// Route dispatches one update. Updates that are not chat messages, or
// message shapes the flows don't use, are dropped.
func (r *Router) Route(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if msg.IsCommand() {
		r.command(ctx, msg, chatID, userID)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		if !r.machine.Active(chatID, userID) {
			return
		}
		// Telegram orders sizes ascending; take the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := r.files.Download(ctx, photo.FileID)
		if err != nil {
			log.Printf("photo download failed chat=%d user=%d: %v", chatID, userID, err)
			_ = r.notify.Notify(ctx, chatID, "No pude descargar la foto. Envíala de nuevo.")
			return
		}
		r.machine.Handle(ctx, Event{
			Kind:      KindPhoto,
			ChatID:    chatID,
			UserID:    userID,
			UserName:  r.names.UserName(msg.From),
			Caption:   msg.Caption,
			Data:      data,
			FileID:    photo.FileID,
			MessageID: msg.MessageID,
			Time:      msg.Time(),
		})

	case msg.Document != nil:
		if !r.machine.Active(chatID, userID) {
			return
		}
		data, err := r.files.Download(ctx, msg.Document.FileID)
		if err != nil {
			log.Printf("document download failed chat=%d user=%d: %v", chatID, userID, err)
			_ = r.notify.Notify(ctx, chatID, "No pude descargar el archivo. Envíalo de nuevo.")
			return
		}
		r.machine.Handle(ctx, Event{
			Kind:      KindDocument,
			ChatID:    chatID,
			UserID:    userID,
			UserName:  r.names.UserName(msg.From),
			Data:      data,
			Filename:  msg.Document.FileName,
			FileID:    msg.Document.FileID,
			MessageID: msg.MessageID,
			Time:      msg.Time(),
		})

	case msg.Text != "":
		r.machine.Handle(ctx, Event{
			Kind:     KindText,
			ChatID:   chatID,
			UserID:   userID,
			UserName: r.names.UserName(msg.From),
			Text:     msg.Text,
			Time:     msg.Time(),
		})
	}
}

func (r *Router) command(ctx context.Context, msg *tgbotapi.Message, chatID, userID int64) {
	ev := Event{
		ChatID:   chatID,
		UserID:   userID,
		UserName: r.names.UserName(msg.From),
		Time:     msg.Time(),
	}

	switch msg.Command() {
	case "asistencia":
		ev.Kind = KindStartAttendance
	case "indicadores":
		ev.Kind = KindStartIndicators
	case "listo":
		ev.Kind = KindFinish
	case "cancelar":
		ev.Kind = KindCancel
	case "start", "ayuda":
		_ = r.notify.Notify(ctx, chatID, helpText)
		return
	default:
		return
	}
	r.machine.Handle(ctx, ev)
}
