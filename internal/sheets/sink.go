// Package sheets implements the record sink on Google Sheets and Drive:
// each completed record becomes a spreadsheet row, with any files
// uploaded to the chat's Drive folder and shared by link.
//
// The per-chat layout mirrors what the team already uses: a folder per
// chat under a configured root, "asis" and "indicadores" subfolders for
// uploads, and spreadsheets named "<chat>_asistencias" and
// "<chat>_indicadores".
package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/fieldbot-dev/fieldbot/internal/report"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	sheetMimeType  = "application/vnd.google-apps.spreadsheet"

	attendanceSuffix = "asistencias"
	indicatorsSuffix = "indicadores"
	attendanceFolder = "asis"
	indicatorsFolder = "indicadores"

	noImage = "No image"
)

var attendanceHeaders = []string{"User", "Caption", "Follow-up Text", "Date", "Image URL", "Image"}

// Config holds the Google credentials and layout settings.
type Config struct {
	// ServiceAccountFile is the path to the service account JSON.
	ServiceAccountFile string
	// RootFolderID is the Drive folder that holds all chat folders.
	RootFolderID string
	// CacheFlushSchedule is a cron spec for flushing the remote-handle
	// caches. Empty disables the flush job.
	CacheFlushSchedule string
}

// GoogleSink stores records in Sheets and Drive. Folder and spreadsheet
// IDs are cached per chat so steady-state submissions cost one upload
// and one append; a cron job flushes the caches so external renames are
// eventually picked up.
type GoogleSink struct {
	drive  *drive.Service
	sheets *sheetsapi.Service
	root   string
	cron   *cron.Cron

	mu        sync.Mutex
	folderIDs map[string]string
	sheetIDs  map[string]string
}

// New creates a sink authenticated with the service account and starts
// the cache flush job when a schedule is configured.
func New(ctx context.Context, cfg Config) (*GoogleSink, error) {
	if cfg.ServiceAccountFile == "" || cfg.RootFolderID == "" {
		return nil, errors.New("service account file and root folder ID are required")
	}

	opts := []option.ClientOption{
		option.WithCredentialsFile(cfg.ServiceAccountFile),
		option.WithScopes(drive.DriveScope, sheetsapi.SpreadsheetsScope),
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	sheetsSvc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	s := &GoogleSink{
		drive:     driveSvc,
		sheets:    sheetsSvc,
		root:      cfg.RootFolderID,
		folderIDs: make(map[string]string),
		sheetIDs:  make(map[string]string),
	}

	if cfg.CacheFlushSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.CacheFlushSchedule, s.FlushCaches); err != nil {
			return nil, fmt.Errorf("schedule cache flush: %w", err)
		}
		s.cron.Start()
	}
	return s, nil
}

// Close stops the cache flush job.
func (s *GoogleSink) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// FlushCaches drops all cached folder and spreadsheet IDs. The next
// submission re-resolves them against Drive.
func (s *GoogleSink) FlushCaches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Printf("flushing remote handle caches folders=%d sheets=%d", len(s.folderIDs), len(s.sheetIDs))
	s.folderIDs = make(map[string]string)
	s.sheetIDs = make(map[string]string)
}

// SubmitAttendance appends an attendance row, uploading the photo to
// the chat's asis folder.
func (s *GoogleSink) SubmitAttendance(ctx context.Context, chatID int64, rec *report.Attendance) error {
	sheetID, err := s.ensureSheet(ctx, chatID, rec.ChatName, attendanceSuffix)
	if err != nil {
		return err
	}
	chatFolder, err := s.ensureFolder(ctx, s.root, rec.ChatName)
	if err != nil {
		return err
	}
	photoFolder, err := s.ensureFolder(ctx, chatFolder, attendanceFolder)
	if err != nil {
		return err
	}

	imageURL := noImage
	imageCell := noImage
	if len(rec.Photo) > 0 {
		filename := fmt.Sprintf("%s_%s.jpg", rec.UserName, filenameTimestamp(rec.CapturedAt))
		imageURL, err = s.uploadFile(ctx, rec.Photo, filename, photoFolder)
		if err != nil {
			return err
		}
		imageCell = fmt.Sprintf("=IMAGE(%q)", imageURL)
	}

	row := []any{
		rec.UserName,
		rec.Caption,
		rec.FollowUp,
		FormatTimestamp(rec.CapturedAt),
		imageURL,
		imageCell,
	}
	if err := s.ensureHeaders(ctx, sheetID, attendanceHeaders); err != nil {
		return err
	}
	return s.appendRow(ctx, sheetID, row)
}

// SubmitIndicators appends an indicators row, uploading every collected
// file to the chat's indicadores folder.
func (s *GoogleSink) SubmitIndicators(ctx context.Context, chatID int64, rec *report.Indicators) error {
	sheetID, err := s.ensureSheet(ctx, chatID, rec.ChatName, indicatorsSuffix)
	if err != nil {
		return err
	}
	chatFolder, err := s.ensureFolder(ctx, s.root, rec.ChatName)
	if err != nil {
		return err
	}
	filesFolder, err := s.ensureFolder(ctx, chatFolder, indicatorsFolder)
	if err != nil {
		return err
	}

	links := make([]string, 0, len(rec.Files))
	for i, f := range rec.Files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("upload_%d.jpg", i)
		}
		link, err := s.uploadFile(ctx, f.Data, rec.UserName+"_"+name, filesFolder)
		if err != nil {
			return err
		}
		links = append(links, link)
	}

	headers := append([]string{"Usuario"}, report.Labels()...)
	row := []any{rec.UserName}
	for _, label := range report.Labels() {
		row = append(row, rec.Values[label])
	}
	for i, link := range links {
		headers = append(headers, fmt.Sprintf("Archivo %d", i+1))
		row = append(row, link)
	}

	if err := s.ensureHeaders(ctx, sheetID, headers); err != nil {
		return err
	}
	return s.appendRow(ctx, sheetID, row)
}

// ensureFolder finds or creates a folder under parent, caching the ID.
func (s *GoogleSink) ensureFolder(ctx context.Context, parentID, name string) (string, error) {
	name = SanitizeName(name)
	cacheKey := parentID + "/" + name

	s.mu.Lock()
	if id, ok := s.folderIDs[cacheKey]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	query := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		parentID, escapeQuery(name), folderMimeType)
	list, err := s.drive.Files.List().Q(query).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search folder %q: %w", name, wrapAPIError(err))
	}

	var id string
	if len(list.Files) > 0 {
		id = list.Files[0].Id
	} else {
		folder, err := s.drive.Files.Create(&drive.File{
			Name:     name,
			MimeType: folderMimeType,
			Parents:  []string{parentID},
		}).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("create folder %q: %w", name, wrapAPIError(err))
		}
		id = folder.Id
	}

	s.mu.Lock()
	s.folderIDs[cacheKey] = id
	s.mu.Unlock()
	return id, nil
}

// ensureSheet finds or creates the chat's spreadsheet for a flow,
// caching the ID per (chat, flow).
func (s *GoogleSink) ensureSheet(ctx context.Context, chatID int64, chatName, suffix string) (string, error) {
	cacheKey := fmt.Sprintf("%d_%s", chatID, suffix)

	s.mu.Lock()
	if id, ok := s.sheetIDs[cacheKey]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	chatFolder, err := s.ensureFolder(ctx, s.root, chatName)
	if err != nil {
		return "", err
	}

	sheetName := SanitizeName(chatName) + "_" + suffix
	query := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		chatFolder, escapeQuery(sheetName), sheetMimeType)
	list, err := s.drive.Files.List().Q(query).Fields("files(id, name)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search spreadsheet %q: %w", sheetName, wrapAPIError(err))
	}

	var id string
	if len(list.Files) > 0 {
		id = list.Files[0].Id
	} else {
		created, err := s.sheets.Spreadsheets.Create(&sheetsapi.Spreadsheet{
			Properties: &sheetsapi.SpreadsheetProperties{Title: sheetName},
		}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("create spreadsheet %q: %w", sheetName, wrapAPIError(err))
		}
		id = created.SpreadsheetId

		// New spreadsheets land in the service account's root; move
		// them into the chat folder.
		_, err = s.drive.Files.Update(id, nil).
			AddParents(chatFolder).
			RemoveParents("root").
			Fields("id, parents").
			Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("move spreadsheet %q: %w", sheetName, wrapAPIError(err))
		}
	}

	s.mu.Lock()
	s.sheetIDs[cacheKey] = id
	s.mu.Unlock()
	return id, nil
}

// uploadFile uploads data to the folder and makes it readable by link.
func (s *GoogleSink) uploadFile(ctx context.Context, data []byte, filename, folderID string) (string, error) {
	filename = SanitizeName(filename)

	file, err := s.drive.Files.Create(&drive.File{
		Name:    filename,
		Parents: []string{folderID},
	}).Media(bytes.NewReader(data)).Fields("id, webViewLink").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", filename, wrapAPIError(err))
	}

	_, err = s.drive.Permissions.Create(file.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("share %q: %w", filename, wrapAPIError(err))
	}
	return file.WebViewLink, nil
}

// ensureHeaders writes the header row once, when A1:Z1 is still empty.
func (s *GoogleSink) ensureHeaders(ctx context.Context, sheetID string, headers []string) error {
	resp, err := s.sheets.Spreadsheets.Values.Get(sheetID, "A1:Z1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", wrapAPIError(err))
	}
	if len(resp.Values) > 0 {
		return nil
	}

	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	_, err = s.sheets.Spreadsheets.Values.Update(sheetID, "A1", &sheetsapi.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header row: %w", wrapAPIError(err))
	}
	return nil
}

func (s *GoogleSink) appendRow(ctx context.Context, sheetID string, row []any) error {
	_, err := s.sheets.Spreadsheets.Values.Append(sheetID, "A1", &sheetsapi.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", wrapAPIError(err))
	}
	return nil
}

// wrapAPIError surfaces the HTTP status of Google API failures in the
// error chain.
func wrapAPIError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("google api status %d: %w", apiErr.Code, err)
	}
	return err
}
