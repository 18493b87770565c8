// Package flow implements the conversational state machine and the
// inbound event router. It owns every session transition: mode start,
// field accumulation, deadline arming, and the exactly-once terminal
// resolution that hands completed records to the sink.
package flow

import "time"

// Kind classifies an inbound event.
type Kind string

const (
	// KindStartAttendance begins a photo + follow-up session.
	KindStartAttendance Kind = "start_attendance"
	// KindStartIndicators begins a template + attachments session.
	KindStartIndicators Kind = "start_indicators"
	// KindPhoto carries a downloaded photo payload.
	KindPhoto Kind = "photo"
	// KindDocument carries a downloaded document payload.
	KindDocument Kind = "document"
	// KindText carries a plain text message.
	KindText Kind = "text"
	// KindFinish is the explicit finish command.
	KindFinish Kind = "finish"
	// KindCancel discards the active session.
	KindCancel Kind = "cancel"
)

// Event is a transport-neutral inbound event. Binary payloads are
// already downloaded by the time an Event reaches the machine, so
// transitions never block on transport I/O.
type Event struct {
	Kind      Kind
	ChatID    int64
	UserID    int64
	UserName  string
	Text      string
	Caption   string
	Data      []byte
	Filename  string
	FileID    string
	MessageID int
	Time      time.Time
}
