package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"curevo/config"
	"curevo/internal/status"
	"curevo/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory AppointmentStore that mirrors the database's
// partial unique slot index.
type fakeStore struct {
	mu    sync.Mutex
	seq   int
	appts map[string]*models.Appointment
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: map[string]*models.Appointment{}}
}

func (f *fakeStore) Find(_ context.Context, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appt, ok := f.appts[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	copied := *appt
	return &copied, nil
}

func (f *fakeStore) Create(_ context.Context, a *models.Appointment) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.appts {
		if existing.DoctorID == a.DoctorID && existing.Date == a.Date && existing.SlotTime == a.SlotTime &&
			existing.Status != models.StatusCancelled && existing.Status != models.StatusNoShow {
			return nil, status.ErrSlotTaken
		}
	}
	f.seq++
	copied := *a
	copied.ID = fmt.Sprintf("appt%d", f.seq)
	f.appts[copied.ID] = &copied
	result := copied
	return &result, nil
}

func (f *fakeStore) Update(_ context.Context, a *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.appts[a.ID]; !ok {
		return status.ErrNotFound
	}
	copied := *a
	f.appts[a.ID] = &copied
	return nil
}

func (f *fakeStore) BookedSlotTimes(_ context.Context, doctorID, date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var times []string
	for _, a := range f.appts {
		if a.DoctorID == doctorID && a.Date == date &&
			a.Status != models.StatusCancelled && a.Status != models.StatusNoShow {
			times = append(times, a.SlotTime)
		}
	}
	return times, nil
}

func (f *fakeStore) WaitingForDate(_ context.Context, date string) ([]*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var waiting []*models.Appointment
	for _, a := range f.appts {
		if a.Date == date && a.Status == models.StatusWaiting {
			copied := *a
			waiting = append(waiting, &copied)
		}
	}
	return waiting, nil
}

type fakeSchedules struct {
	cfg *models.ScheduleConfig
}

func (f *fakeSchedules) ConfigForClinic(_ context.Context, clinicID string) (*models.ScheduleConfig, error) {
	if clinicID != f.cfg.ClinicID {
		return nil, status.ErrNotFound
	}
	return f.cfg, nil
}

func (f *fakeSchedules) DoctorClinic(_ context.Context, doctorID string) (string, error) {
	if doctorID != "doc1" {
		return "", status.ErrNotFound
	}
	return f.cfg.ClinicID, nil
}

func testAppointmentService(t *testing.T) (*AppointmentService, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	schedules := &fakeSchedules{cfg: &models.ScheduleConfig{
		ClinicID:            "clinic1",
		OpeningTime:         "09:00",
		ClosingTime:         "17:00",
		ConsultationMinutes: 15,
		WorkingDays:         []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
		ConsultationFee:     decimal.NewFromInt(500),
		Active:              true,
	}}

	client := testRedis(t)
	cfg := &config.Config{
		DefaultConsultationMinutes: 15,
		QueuePositionUpdate:        5 * time.Second,
		CleanupInterval:            time.Hour,
		TokenCounterTTL:            48 * time.Hour,
	}
	notifier := NewNotifyService(nil)
	queue := NewQueueService(client, notifier, cfg)
	tokens := NewTokenService(client, cfg.TokenCounterTTL)

	return NewAppointmentService(store, schedules, tokens, queue, notifier), store
}

func today() string {
	return time.Now().Format(models.DateLayout)
}

func bookToday(t *testing.T, svc *AppointmentService, slot, priority string) *models.Appointment {
	t.Helper()
	appt, err := svc.Book(context.Background(), &BookRequest{
		PatientID: "pat1",
		DoctorID:  "doc1",
		Date:      today(),
		SlotTime:  slot,
		Priority:  priority,
	})
	require.NoError(t, err)
	return appt
}

func TestBook_AssignsTokenAndFee(t *testing.T) {
	svc, _ := testAppointmentService(t)

	first := bookToday(t, svc, "09:00", models.PriorityNormal)
	second := bookToday(t, svc, "09:15", models.PriorityNormal)

	assert.Equal(t, models.StatusBooked, first.Status)
	assert.Equal(t, int64(1), first.TokenNumber)
	assert.Equal(t, int64(2), second.TokenNumber)
	assert.True(t, first.Fee.Equal(decimal.NewFromInt(500)))
	assert.NotEmpty(t, first.Ref)
}

func TestBook_DoubleBookingConflicts(t *testing.T) {
	svc, _ := testAppointmentService(t)

	bookToday(t, svc, "09:00", models.PriorityNormal)

	_, err := svc.Book(context.Background(), &BookRequest{
		PatientID: "pat2",
		DoctorID:  "doc1",
		Date:      today(),
		SlotTime:  "09:00",
	})
	assert.ErrorIs(t, err, status.ErrSlotTaken)
}

func TestBook_Validation(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	_, err := svc.Book(ctx, &BookRequest{PatientID: "p", DoctorID: "doc1", Date: "2020-01-01", SlotTime: "09:00"})
	assert.ErrorIs(t, err, status.ErrInvalidDate)

	_, err = svc.Book(ctx, &BookRequest{PatientID: "p", DoctorID: "doc1", Date: today(), SlotTime: "09:07"})
	assert.ErrorIs(t, err, status.ErrInvalidSlot)

	_, err = svc.Book(ctx, &BookRequest{PatientID: "p", DoctorID: "doc1", Date: today(), SlotTime: "09:00", Priority: "urgent"})
	assert.ErrorIs(t, err, status.ErrInvalidPriority)

	_, err = svc.Book(ctx, &BookRequest{PatientID: "p", DoctorID: "nobody", Date: today(), SlotTime: "09:00"})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestBook_CancelledSlotIsRebookable(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	first := bookToday(t, svc, "09:00", models.PriorityNormal)
	_, err := svc.Cancel(ctx, first.ID)
	require.NoError(t, err)

	again := bookToday(t, svc, "09:00", models.PriorityNormal)
	assert.NotEqual(t, first.ID, again.ID)
	// A released slot is reused but the token sequence never rewinds.
	assert.Equal(t, int64(2), again.TokenNumber)
}

func TestCheckIn_EnqueuesPatient(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)

	checked, err := svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, checked.Status)
	require.NotNil(t, checked.CheckedInAt)

	pos, err := svc.Position(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Position)
	assert.Equal(t, 0, pos.PatientsAhead)
}

func TestCheckIn_TwiceFails(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)
	_, err := svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)

	_, err = svc.CheckIn(ctx, appt.ID)
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
}

func TestCheckIn_WrongDayRejected(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	tomorrow := time.Now().AddDate(0, 0, 1).Format(models.DateLayout)
	appt, err := svc.Book(ctx, &BookRequest{
		PatientID: "pat1",
		DoctorID:  "doc1",
		Date:      tomorrow,
		SlotTime:  "09:00",
	})
	require.NoError(t, err)

	_, err = svc.CheckIn(ctx, appt.ID)
	assert.ErrorIs(t, err, status.ErrNotToday)
}

func TestCallNext_FullConsultationFlow(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)
	_, err := svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)

	called, err := svc.CallNext(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, appt.ID, called.ID)
	assert.Equal(t, models.StatusInProgress, called.Status)
	require.NotNil(t, called.ConsultStartedAt)

	current, err := svc.Queue.CurrentToken(ctx, "doc1", today())
	require.NoError(t, err)
	assert.Equal(t, called.TokenNumber, current)

	done, err := svc.Complete(ctx, called.ID, "prescribed rest")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, "prescribed rest", done.Notes)
	require.NotNil(t, done.ConsultEndedAt)

	current, err = svc.Queue.CurrentToken(ctx, "doc1", today())
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)
}

func TestCallNext_EmptyQueue(t *testing.T) {
	svc, _ := testAppointmentService(t)

	_, err := svc.CallNext(context.Background(), "doc1")
	assert.ErrorIs(t, err, status.ErrNoActiveQueue)
}

func TestCancel_WaitingPatientLeavesQueue(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	first := bookToday(t, svc, "09:00", models.PriorityNormal)
	second := bookToday(t, svc, "09:15", models.PriorityNormal)
	_, err := svc.CheckIn(ctx, first.ID)
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, second.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	pos, err := svc.Position(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Position)
}

func TestCancel_CompletedRejected(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)
	_, err := svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)
	_, err = svc.CallNext(ctx, "doc1")
	require.NoError(t, err)
	_, err = svc.Complete(ctx, appt.ID, "")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, status.ErrIllegalTransition)
}

func TestMarkNoShow(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)

	marked, err := svc.MarkNoShow(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, marked.Status)
}

func TestPosition_NotWaiting(t *testing.T) {
	svc, _ := testAppointmentService(t)

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)

	_, err := svc.Position(context.Background(), appt.ID)
	assert.ErrorIs(t, err, status.ErrNotInQueue)
}

func TestRecoverQueues_RebuildsWaiting(t *testing.T) {
	svc, _ := testAppointmentService(t)
	ctx := context.Background()

	appt := bookToday(t, svc, "09:00", models.PriorityNormal)
	_, err := svc.CheckIn(ctx, appt.ID)
	require.NoError(t, err)

	// Simulate a Redis wipe: flush the queue, keep the records.
	svc.Queue.Redis.FlushAll(ctx)
	_, err = svc.Position(ctx, appt.ID)
	assert.ErrorIs(t, err, status.ErrNotInQueue)

	require.NoError(t, svc.RecoverQueues(ctx))

	pos, err := svc.Position(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Position)
}
