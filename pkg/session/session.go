// Package session tracks in-flight conversational interactions.
// A session binds one multi-step exchange (a photo plus a follow-up text,
// or a structured report plus attachments) to a (chat, user) pair and
// carries its accumulated state until the exchange resolves.
//
// Session state is memory-only: a process restart discards all active
// sessions, and users restart their exchange with the start command.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects which conversational flow a session runs.
type Mode string

const (
	// ModeAttendance collects one photo and a short follow-up text.
	ModeAttendance Mode = "asistencia"
	// ModeIndicators collects a six-field report plus attachments.
	ModeIndicators Mode = "indicadores"
)

// Phase identifies where a session is in its flow.
type Phase string

const (
	// PhaseAwaitingPhoto is the initial attendance phase.
	PhaseAwaitingPhoto Phase = "awaiting_photo"
	// PhaseAwaitingFollowUp means a photo was captured and the session
	// is waiting for the follow-up text.
	PhaseAwaitingFollowUp Phase = "awaiting_follow_up"
	// PhaseAwaitingTemplate is the initial indicators phase.
	PhaseAwaitingTemplate Phase = "awaiting_template"
	// PhaseAwaitingAttachments means the report parsed and files are
	// being collected.
	PhaseAwaitingAttachments Phase = "awaiting_attachments"
)

// Photo holds a captured photo and its message metadata.
type Photo struct {
	Data       []byte
	Caption    string
	CapturedAt time.Time
	FileID     string
	MessageID  int
}

// Attachment is one collected file. Filename may be empty for photos
// sent without a document wrapper.
type Attachment struct {
	Data     []byte
	Filename string
}

// Session is one in-flight interaction. All mutation happens through
// Store methods while the store lock is held; callers outside the store
// only read a Session after removing it, at which point they own it.
type Session struct {
	ID        string
	ChatID    int64
	UserID    int64
	UserName  string
	Mode      Mode
	Phase     Phase
	StartedAt time.Time

	// Attendance payload.
	Photo    *Photo
	FollowUp string

	// Indicators payload.
	Fields      map[string]string
	Attachments []Attachment

	// DeadlineAt is the instant the armed deadline expires. Late events
	// are checked against it in case the timer goroutine lags.
	DeadlineAt time.Time

	deadline *Handle
}

func newSession(chatID, userID int64, mode Mode) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		UserID:    userID,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	switch mode {
	case ModeIndicators:
		s.Phase = PhaseAwaitingTemplate
	default:
		s.Phase = PhaseAwaitingPhoto
	}
	return s
}
