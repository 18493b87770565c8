package sheets

import (
	"context"
	"log"

	"github.com/fieldbot-dev/fieldbot/internal/report"
)

// LogSink is a dry-run sink that logs rows instead of calling Google.
// Used for local runs without credentials.
type LogSink struct{}

// NewLogSink creates a dry-run sink.
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (*LogSink) SubmitAttendance(_ context.Context, chatID int64, rec *report.Attendance) error {
	log.Printf("[dry-run] attendance chat=%d user=%s caption=%q follow_up=%q photo_bytes=%d",
		chatID, rec.UserName, rec.Caption, rec.FollowUp, len(rec.Photo))
	return nil
}

func (*LogSink) SubmitIndicators(_ context.Context, chatID int64, rec *report.Indicators) error {
	log.Printf("[dry-run] indicators chat=%d user=%s values=%d files=%d",
		chatID, rec.UserName, len(rec.Values), len(rec.Files))
	return nil
}
