// Package report defines the completed-record shapes handed to the
// record sink, and the parser for the structured indicators template.
package report

import "time"

// File is one collected attachment. Name may be empty when the file
// arrived as a bare photo; the sink substitutes a generated name.
type File struct {
	Data []byte
	Name string
}

// Attendance is a completed single-shot record: one photo plus the
// follow-up text sent within the window. FollowUp is empty when the
// window expired and the record auto-submitted.
type Attendance struct {
	ChatName   string
	UserName   string
	Caption    string
	FollowUp   string
	CapturedAt time.Time
	Photo      []byte
}

// Indicators is a completed structured record: the six parsed field
// values plus the attachments collected before the finish command or
// deadline.
type Indicators struct {
	ChatName string
	UserName string
	Values   map[string]string
	Files    []File
}
