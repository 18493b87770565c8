package sheets

import (
	"strings"
	"time"
)

// sheetLocation is the timezone rows are stamped in. The team operates
// on Mexico City time regardless of where the process runs.
var sheetLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/Mexico_City")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// FormatTimestamp renders a timestamp the way the spreadsheets expect:
// MM/DD/YYYY HH:MM:SS in Mexico City time. Zero times render empty.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(sheetLocation).Format("01/02/2006 15:04:05")
}

// SanitizeName strips the characters Drive rejects in file and folder
// names.
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return -1
		}
		return r
	}, name)
}

// escapeQuery escapes a string literal for a Drive search query.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// filenameTimestamp is FormatTimestamp made safe for filenames.
func filenameTimestamp(t time.Time) string {
	r := strings.NewReplacer("/", "-", ":", "-", " ", "_")
	return r.Replace(FormatTimestamp(t))
}
