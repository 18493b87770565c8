package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldbot-dev/fieldbot/internal/report"
	"github.com/fieldbot-dev/fieldbot/pkg/session"
)

type fakeSink struct {
	mu         sync.Mutex
	attendance []*report.Attendance
	indicators []*report.Indicators
	err        error
}

func (f *fakeSink) SubmitAttendance(_ context.Context, _ int64, rec *report.Attendance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.attendance = append(f.attendance, rec)
	return nil
}

func (f *fakeSink) SubmitIndicators(_ context.Context, _ int64, rec *report.Indicators) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.indicators = append(f.indicators, rec)
	return nil
}

func (f *fakeSink) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attendance) + len(f.indicators)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeNotifier) contains(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type staticDir struct{}

func (staticDir) ChatName(context.Context, int64) string { return "Equipo Norte" }

type fixture struct {
	store *session.Store
	sink  *fakeSink
	notes *fakeNotifier
	m     *Machine
}

func newFixture(timeouts Timeouts) *fixture {
	f := &fixture{
		store: session.NewStore(),
		sink:  &fakeSink{},
		notes: &fakeNotifier{},
	}
	f.m = NewMachine(f.store, f.sink, f.notes, staticDir{}, timeouts)
	return f
}

func slowTimeouts() Timeouts {
	return Timeouts{FollowUp: time.Minute, Attachments: time.Minute}
}

func (f *fixture) handle(ev Event) {
	f.m.Handle(context.Background(), ev)
}

const validReport = `Visitas Planeadas: 10
Visitas Realizadas: 8
OC Extra: 2
Cotizaciones: 5
Detalle de la venta: Tienda Centro
Clientes Nuevos: 1`

func TestAttendanceHappyPath(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9, UserName: "@ana"})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Caption: "C", Time: time.Now()})
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "Store A"})

	require.Len(t, f.sink.attendance, 1)
	rec := f.sink.attendance[0]
	assert.Equal(t, "Store A", rec.FollowUp)
	assert.Equal(t, "C", rec.Caption)
	assert.Equal(t, []byte("P"), rec.Photo)
	assert.Equal(t, "@ana", rec.UserName)
	assert.Equal(t, "Equipo Norte", rec.ChatName)
	assert.Equal(t, 0, f.store.Len(), "session must be removed after submit")
	assert.True(t, f.notes.contains("Asistencia guardada"))
}

func TestStartWhileActiveRejected(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9, UserName: "@ana"})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})
	f.handle(Event{Kind: KindStartIndicators, ChatID: 1, UserID: 9, UserName: "@ana"})

	assert.True(t, f.notes.contains("Ya hay un registro en curso"))
	assert.Equal(t, 1, f.store.Len())

	// The existing session is untouched: its follow-up still submits.
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "sigo aquí"})
	require.Len(t, f.sink.attendance, 1)
	assert.Equal(t, "sigo aquí", f.sink.attendance[0].FollowUp)
}

func TestAttendanceAutoSubmitOnDeadline(t *testing.T) {
	f := newFixture(Timeouts{FollowUp: 20 * time.Millisecond, Attachments: time.Minute})

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9, UserName: "@ana"})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Caption: "C", Time: time.Now()})

	require.Eventually(t, func() bool { return f.sink.calls() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Empty(t, f.sink.attendance[0].FollowUp)
	assert.Equal(t, "C", f.sink.attendance[0].Caption)
	assert.Equal(t, 0, f.store.Len())
}

func TestAttendanceNoPhotoTimeoutDiscards(t *testing.T) {
	f := newFixture(Timeouts{FollowUp: time.Minute, Attachments: 20 * time.Millisecond})

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})

	require.Eventually(t, func() bool { return f.store.Len() == 0 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.sink.calls(), "no sink call without a photo")
}

func TestAttendanceLateTextDiscardsSilently(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})

	// Simulate a lagging timer: the wall-clock deadline has passed but
	// the fire callback has not run yet.
	f.store.Update(1, 9, func(s *session.Session) {
		s.DeadlineAt = time.Now().UTC().Add(-time.Second)
	})
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "tarde"})

	assert.Equal(t, 0, f.sink.calls())
	assert.Equal(t, 0, f.store.Len(), "late text still resolves the session")
}

func TestTextWithoutSessionIgnored(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "hola"})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P")})
	f.handle(Event{Kind: KindFinish, ChatID: 1, UserID: 9})

	assert.Equal(t, 0, f.sink.calls())
	assert.Empty(t, f.notes.msgs)
}

func TestTextBeforePhotoIgnored(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "sin foto"})

	assert.Equal(t, 0, f.sink.calls())
	assert.Equal(t, 1, f.store.Len(), "session persists until its photo arrives")
}

func TestIndicatorsHappyPath(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartIndicators, ChatID: 2, UserID: 5, UserName: "@luis"})
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: validReport})
	assert.Equal(t, 0, f.sink.calls(), "no sink call before finish")

	f.handle(Event{Kind: KindDocument, ChatID: 2, UserID: 5, Data: []byte("D1"), Filename: "ventas.pdf"})
	f.handle(Event{Kind: KindFinish, ChatID: 2, UserID: 5})

	require.Len(t, f.sink.indicators, 1)
	rec := f.sink.indicators[0]
	assert.Equal(t, "@luis", rec.UserName)
	assert.Equal(t, "10", rec.Values["Visitas Planeadas"])
	assert.Equal(t, "1", rec.Values["Clientes Nuevos"])
	require.Len(t, rec.Files, 1)
	assert.Equal(t, []byte("D1"), rec.Files[0].Data)
	assert.Equal(t, "ventas.pdf", rec.Files[0].Name)
	assert.Equal(t, 0, f.store.Len())
}

func TestIndicatorsBadTemplateRetryable(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartIndicators, ChatID: 2, UserID: 5})
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: "Visitas Planeadas: 10"})

	assert.True(t, f.notes.contains("No pude leer el reporte"))
	assert.Equal(t, 1, f.store.Len(), "session persists after a format error")

	// A corrected report still goes through.
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: validReport})
	f.handle(Event{Kind: KindFinish, ChatID: 2, UserID: 5})
	assert.Len(t, f.sink.indicators, 1)
}

func TestIndicatorsPhotoAsAttachment(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartIndicators, ChatID: 2, UserID: 5})
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: validReport})
	f.handle(Event{Kind: KindPhoto, ChatID: 2, UserID: 5, Data: []byte("IMG"), Time: time.Now()})
	f.handle(Event{Kind: KindDocument, ChatID: 2, UserID: 5, Data: []byte("D2"), Filename: "oc.pdf"})
	f.handle(Event{Kind: KindFinish, ChatID: 2, UserID: 5})

	require.Len(t, f.sink.indicators, 1)
	files := f.sink.indicators[0].Files
	require.Len(t, files, 2)
	assert.Equal(t, []byte("IMG"), files[0].Data)
	assert.Empty(t, files[0].Name)
	assert.Equal(t, "oc.pdf", files[1].Name)
}

func TestIndicatorsAttachmentBeforeTemplateIgnored(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartIndicators, ChatID: 2, UserID: 5})
	f.handle(Event{Kind: KindDocument, ChatID: 2, UserID: 5, Data: []byte("D1")})
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: validReport})
	f.handle(Event{Kind: KindFinish, ChatID: 2, UserID: 5})

	require.Len(t, f.sink.indicators, 1)
	assert.Empty(t, f.sink.indicators[0].Files, "files before a valid template are not collected")
}

func TestIndicatorsDeadlineAutoSubmits(t *testing.T) {
	f := newFixture(Timeouts{FollowUp: time.Minute, Attachments: 20 * time.Millisecond})

	f.handle(Event{Kind: KindStartIndicators, ChatID: 2, UserID: 5, UserName: "@luis"})
	f.handle(Event{Kind: KindText, ChatID: 2, UserID: 5, Text: validReport})

	require.Eventually(t, func() bool { return f.sink.calls() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, f.sink.indicators, 1)
	assert.Equal(t, 0, f.store.Len())
}

func TestCancelDiscardsWithoutSink(t *testing.T) {
	f := newFixture(slowTimeouts())

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})
	f.handle(Event{Kind: KindCancel, ChatID: 1, UserID: 9})

	assert.Equal(t, 0, f.sink.calls())
	assert.Equal(t, 0, f.store.Len())
	assert.True(t, f.notes.contains("Registro cancelado"))
}

func TestSinkFailureClearsSession(t *testing.T) {
	f := newFixture(slowTimeouts())
	f.sink.err = errors.New("sheets unavailable")

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "Store A"})

	assert.True(t, f.notes.contains("No se pudo guardar"))
	assert.Equal(t, 0, f.store.Len(), "no orphaned session on sink failure")

	// The user can start over immediately.
	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	assert.Equal(t, 1, f.store.Len())
}

// The terminal race: an explicit completion and a deadline fire compete
// for the same session. The sink must never see two calls for one
// session, and every session must resolve. A round may legitimately
// produce zero calls when the text lands past the deadline instant and
// wins the silent-discard path.
func TestCompletionDeadlineRaceNeverSubmitsTwice(t *testing.T) {
	const rounds = 25
	f := newFixture(Timeouts{FollowUp: 5 * time.Millisecond, Attachments: time.Minute})

	for i := 0; i < rounds; i++ {
		before := f.sink.calls()

		f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
		f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})

		// Land the text right around the deadline instant.
		time.Sleep(5 * time.Millisecond)
		f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "Store A"})

		// Once the store is empty no further path can claim the session:
		// a late timer finds the key absent. The removal happens before
		// the winner's sink call, so give an in-flight submit a moment to
		// land before counting.
		require.Eventually(t, func() bool { return f.store.Len() == 0 },
			time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)

		delta := f.sink.calls() - before
		require.LessOrEqual(t, delta, 1, "round %d: sink called %d times", i, delta)
	}
	assert.LessOrEqual(t, f.sink.calls(), rounds)
}

// A completion comfortably inside the window and the armed timer: the
// sink is invoked exactly once, by the completion path.
func TestCompletionInsideWindowSubmitsExactlyOnce(t *testing.T) {
	f := newFixture(Timeouts{FollowUp: 50 * time.Millisecond, Attachments: time.Minute})

	f.handle(Event{Kind: KindStartAttendance, ChatID: 1, UserID: 9})
	f.handle(Event{Kind: KindPhoto, ChatID: 1, UserID: 9, Data: []byte("P"), Time: time.Now()})
	f.handle(Event{Kind: KindText, ChatID: 1, UserID: 9, Text: "Store A"})

	// Wait past the original deadline: the cancelled timer must not
	// resurrect the session or double-submit.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, f.sink.calls())
	assert.Equal(t, "Store A", f.sink.attendance[0].FollowUp)
}
