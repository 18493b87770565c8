package flow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fieldbot-dev/fieldbot/internal/report"
	"github.com/fieldbot-dev/fieldbot/pkg/observability"
	"github.com/fieldbot-dev/fieldbot/pkg/session"
)

// Sink durably stores a completed record (spreadsheet row plus uploaded
// files). Implementations may be slow; the machine never calls a Sink
// while holding the session store lock.
type Sink interface {
	SubmitAttendance(ctx context.Context, chatID int64, rec *report.Attendance) error
	SubmitIndicators(ctx context.Context, chatID int64, rec *report.Indicators) error
}

// Notifier sends a user-visible message to a chat. Delivery is
// best-effort; failures are the notifier's problem.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Directory resolves a chat's display name. It never fails: resolution
// errors degrade to a synthetic name.
type Directory interface {
	ChatName(ctx context.Context, chatID int64) string
}

// Timeouts holds the two deadline windows.
type Timeouts struct {
	// FollowUp is the window for the text after an attendance photo.
	FollowUp time.Duration
	// Attachments is the window for collecting indicator files, and the
	// idle window for sessions still waiting on their primary input.
	Attachments time.Duration
}

// Machine applies inbound events to sessions. One Machine serves all
// chats; per-session mutual exclusion comes from the store.
type Machine struct {
	store    *session.Store
	sink     Sink
	notify   Notifier
	dir      Directory
	timeouts Timeouts
}

// NewMachine creates a state machine over the given collaborators.
func NewMachine(store *session.Store, sink Sink, notify Notifier, dir Directory, timeouts Timeouts) *Machine {
	return &Machine{
		store:    store,
		sink:     sink,
		notify:   notify,
		dir:      dir,
		timeouts: timeouts,
	}
}

// Active reports whether a session exists for the pair. The router uses
// it to skip payload downloads for chats with nothing in flight.
func (m *Machine) Active(chatID, userID int64) bool {
	_, ok := m.store.Get(chatID, userID)
	return ok
}

// Handle applies one event. Events for a (chat, user) pair with no
// matching session are ignored.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	defer func() { observability.SetActiveSessions(m.store.Len()) }()

	switch ev.Kind {
	case KindStartAttendance:
		m.start(ctx, ev, session.ModeAttendance)
	case KindStartIndicators:
		m.start(ctx, ev, session.ModeIndicators)
	case KindPhoto:
		m.photo(ctx, ev)
	case KindDocument:
		m.document(ctx, ev)
	case KindText:
		m.text(ctx, ev)
	case KindFinish:
		m.finish(ctx, ev)
	case KindCancel:
		m.cancel(ctx, ev)
	}
}

func (m *Machine) start(ctx context.Context, ev Event, mode session.Mode) {
	_, err := m.store.Create(ev.ChatID, ev.UserID, mode)
	if err != nil {
		m.send(ctx, ev.ChatID, "Ya hay un registro en curso. Termínalo o envía /cancelar para descartarlo.")
		return
	}
	m.store.Update(ev.ChatID, ev.UserID, func(s *session.Session) {
		s.UserName = ev.UserName
	})

	// Idle guard: a session that never receives its primary input is
	// discarded after the long window.
	m.arm(ev.ChatID, ev.UserID, m.timeouts.Attachments)
	observability.SessionStarted(string(mode))
	log.Printf("session started mode=%s chat=%d user=%d", mode, ev.ChatID, ev.UserID)

	switch mode {
	case session.ModeIndicators:
		m.send(ctx, ev.ChatID, indicatorsPrompt())
	default:
		m.send(ctx, ev.ChatID, "Registro de asistencia iniciado. Envía la foto.")
	}
}

func (m *Machine) photo(ctx context.Context, ev Event) {
	var captured, attached bool
	ok := m.store.Update(ev.ChatID, ev.UserID, func(s *session.Session) {
		switch s.Phase {
		case session.PhaseAwaitingPhoto:
			s.Photo = &session.Photo{
				Data:       ev.Data,
				Caption:    ev.Caption,
				CapturedAt: ev.Time,
				FileID:     ev.FileID,
				MessageID:  ev.MessageID,
			}
			s.Phase = session.PhaseAwaitingFollowUp
			captured = true
		case session.PhaseAwaitingAttachments:
			s.Attachments = append(s.Attachments, session.Attachment{Data: ev.Data})
			attached = true
		}
	})
	if !ok {
		return
	}

	switch {
	case captured:
		m.arm(ev.ChatID, ev.UserID, m.timeouts.FollowUp)
		m.send(ctx, ev.ChatID, fmt.Sprintf("Foto recibida. Tienes %d segundos para enviar el texto.",
			int(m.timeouts.FollowUp.Seconds())))
	case attached:
		m.send(ctx, ev.ChatID, "Archivo recibido. Envía más o termina con /listo.")
	}
}

func (m *Machine) document(ctx context.Context, ev Event) {
	var attached bool
	ok := m.store.Update(ev.ChatID, ev.UserID, func(s *session.Session) {
		if s.Phase != session.PhaseAwaitingAttachments {
			return
		}
		s.Attachments = append(s.Attachments, session.Attachment{
			Data:     ev.Data,
			Filename: ev.Filename,
		})
		attached = true
	})
	if ok && attached {
		m.send(ctx, ev.ChatID, "Archivo recibido. Envía más o termina con /listo.")
	}
}

func (m *Machine) text(ctx context.Context, ev Event) {
	// Follow-up completion is terminal either way: submit within the
	// window, or discard silently when the text arrived too late for a
	// lagging timer to have noticed.
	if sess, ok := m.store.TakeIf(ev.ChatID, ev.UserID, func(s *session.Session) bool {
		return s.Phase == session.PhaseAwaitingFollowUp
	}); ok {
		if time.Now().UTC().After(sess.DeadlineAt) {
			observability.SessionExpired(string(sess.Mode))
			log.Printf("follow-up past deadline, discarded chat=%d user=%d", ev.ChatID, ev.UserID)
			return
		}
		sess.FollowUp = ev.Text
		m.submitAttendance(ctx, sess)
		return
	}

	var (
		inTemplate bool
		parseErr   error
	)
	m.store.Update(ev.ChatID, ev.UserID, func(s *session.Session) {
		if s.Phase != session.PhaseAwaitingTemplate {
			return
		}
		inTemplate = true
		var values map[string]string
		values, parseErr = report.ParseIndicators(ev.Text)
		if parseErr != nil {
			return
		}
		s.Fields = values
		s.Phase = session.PhaseAwaitingAttachments
	})
	if !inTemplate {
		return
	}
	if parseErr != nil {
		log.Printf("indicators parse failed chat=%d user=%d: %v", ev.ChatID, ev.UserID, parseErr)
		m.send(ctx, ev.ChatID, "No pude leer el reporte: "+parseErr.Error()+"\n\n"+indicatorsPrompt())
		return
	}
	m.arm(ev.ChatID, ev.UserID, m.timeouts.Attachments)
	m.send(ctx, ev.ChatID, "Indicadores registrados. Envía tus archivos y termina con /listo.")
}

func (m *Machine) finish(ctx context.Context, ev Event) {
	sess, ok := m.store.TakeIf(ev.ChatID, ev.UserID, func(s *session.Session) bool {
		return s.Phase == session.PhaseAwaitingAttachments
	})
	if !ok {
		return
	}
	m.submitIndicators(ctx, sess)
}

func (m *Machine) cancel(ctx context.Context, ev Event) {
	sess, ok := m.store.Remove(ev.ChatID, ev.UserID)
	if !ok {
		return
	}
	observability.SessionCancelled(string(sess.Mode))
	log.Printf("session cancelled mode=%s chat=%d user=%d", sess.Mode, ev.ChatID, ev.UserID)
	m.send(ctx, ev.ChatID, "Registro cancelado.")
}

// arm schedules the deadline for the pair, replacing any previous one.
func (m *Machine) arm(chatID, userID int64, d time.Duration) {
	m.store.Arm(chatID, userID, d, func() {
		m.expire(chatID, userID)
	})
}

// expire is the deadline-fire path. Removing the session here races any
// concurrent explicit completion; losing the race means the session is
// already gone and nothing happens.
func (m *Machine) expire(chatID, userID int64) {
	sess, ok := m.store.Remove(chatID, userID)
	if !ok {
		return
	}
	defer func() { observability.SetActiveSessions(m.store.Len()) }()
	ctx := context.Background()

	switch sess.Phase {
	case session.PhaseAwaitingFollowUp:
		// Auto-submit with an empty follow-up; the photo alone is a
		// valid attendance record.
		if sess.Photo != nil {
			m.submitAttendance(ctx, sess)
			return
		}
		observability.SessionDiscarded(string(sess.Mode))
	case session.PhaseAwaitingAttachments:
		m.submitIndicators(ctx, sess)
		return
	case session.PhaseAwaitingTemplate:
		observability.SessionExpired(string(sess.Mode))
		log.Printf("indicators session expired chat=%d user=%d", chatID, userID)
		m.send(ctx, chatID, "La sesión de indicadores expiró. Empieza de nuevo con /indicadores.")
	default:
		observability.SessionDiscarded(string(sess.Mode))
		log.Printf("session discarded without input mode=%s chat=%d user=%d", sess.Mode, chatID, userID)
	}
}

func (m *Machine) submitAttendance(ctx context.Context, sess *session.Session) {
	rec := &report.Attendance{
		ChatName:   m.dir.ChatName(ctx, sess.ChatID),
		UserName:   sess.UserName,
		Caption:    sess.Photo.Caption,
		FollowUp:   sess.FollowUp,
		CapturedAt: sess.Photo.CapturedAt,
		Photo:      sess.Photo.Data,
	}

	start := time.Now()
	err := m.sink.SubmitAttendance(ctx, sess.ChatID, rec)
	observability.ObserveSinkDuration(string(sess.Mode), time.Since(start).Seconds())
	if err != nil {
		observability.SinkError(string(sess.Mode))
		log.Printf("attendance submit failed chat=%d user=%d: %v", sess.ChatID, sess.UserID, err)
		m.send(ctx, sess.ChatID, "No se pudo guardar la asistencia. Intenta de nuevo con /asistencia.")
		return
	}
	observability.SessionSubmitted(string(sess.Mode))
	log.Printf("attendance stored chat=%d user=%d", sess.ChatID, sess.UserID)
	m.send(ctx, sess.ChatID, "Asistencia guardada.")
}

func (m *Machine) submitIndicators(ctx context.Context, sess *session.Session) {
	files := make([]report.File, 0, len(sess.Attachments))
	for _, a := range sess.Attachments {
		files = append(files, report.File{Data: a.Data, Name: a.Filename})
	}
	rec := &report.Indicators{
		ChatName: m.dir.ChatName(ctx, sess.ChatID),
		UserName: sess.UserName,
		Values:   sess.Fields,
		Files:    files,
	}

	start := time.Now()
	err := m.sink.SubmitIndicators(ctx, sess.ChatID, rec)
	observability.ObserveSinkDuration(string(sess.Mode), time.Since(start).Seconds())
	if err != nil {
		observability.SinkError(string(sess.Mode))
		log.Printf("indicators submit failed chat=%d user=%d: %v", sess.ChatID, sess.UserID, err)
		m.send(ctx, sess.ChatID, "No se pudieron guardar los indicadores. Intenta de nuevo con /indicadores.")
		return
	}
	observability.SessionSubmitted(string(sess.Mode))
	log.Printf("indicators stored chat=%d user=%d files=%d", sess.ChatID, sess.UserID, len(files))
	m.send(ctx, sess.ChatID, "Indicadores guardados.")
}

func (m *Machine) send(ctx context.Context, chatID int64, text string) {
	if err := m.notify.Notify(ctx, chatID, text); err != nil {
		log.Printf("notify failed chat=%d: %v", chatID, err)
	}
}

func indicatorsPrompt() string {
	return "Envía tu reporte con estas líneas:\n" +
		strings.Join(report.Labels(), ": ...\n") + ": ..."
}
