package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"curevo/internal/status"
	"curevo/models"
	"curevo/monitoring"
	"curevo/utils"
)

// AppointmentService drives the appointment lifecycle:
// booked -> waiting -> in_progress -> completed, with cancelled and
// no_show as side exits before the consultation starts.
type AppointmentService struct {
	Store     AppointmentStore
	Schedules ScheduleProvider
	Tokens    *TokenService
	Queue     *QueueService
	Notifier  *NotifyService
}

func NewAppointmentService(
	store AppointmentStore,
	schedules ScheduleProvider,
	tokens *TokenService,
	queue *QueueService,
	notifier *NotifyService,
) *AppointmentService {
	return &AppointmentService{
		Store:     store,
		Schedules: schedules,
		Tokens:    tokens,
		Queue:     queue,
		Notifier:  notifier,
	}
}

type BookRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	SlotTime  string `json:"slot_time"`
	Priority  string `json:"priority"`
	Notes     string `json:"notes"`
}

// Book validates the slot against the generated schedule, allocates the
// call-order token and persists the appointment as booked. The fee is
// snapshotted from the clinic config at booking time.
func (s *AppointmentService) Book(ctx context.Context, req *BookRequest) (*models.Appointment, error) {
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !models.ValidPriority(req.Priority) {
		return nil, status.ErrInvalidPriority
	}

	date, err := time.ParseInLocation(models.DateLayout, req.Date, time.Local)
	if err != nil {
		return nil, status.ErrInvalidDate
	}
	today := time.Now().Format(models.DateLayout)
	if req.Date < today {
		return nil, status.ErrInvalidDate
	}

	clinicID, err := s.Schedules.DoctorClinic(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.Schedules.ConfigForClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	booked, err := s.Store.BookedSlotTimes(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}
	if err := ValidateBookable(cfg, date, booked, req.SlotTime); err != nil {
		return nil, err
	}

	token, err := s.Tokens.NextToken(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}

	ref, err := utils.GenerateCode(4)
	if err != nil {
		return nil, err
	}

	appt := &models.Appointment{
		PatientID:   req.PatientID,
		DoctorID:    req.DoctorID,
		ClinicID:    clinicID,
		Date:        req.Date,
		SlotTime:    req.SlotTime,
		TokenNumber: token,
		Status:      models.StatusBooked,
		Priority:    req.Priority,
		Ref:         ref,
		Fee:         cfg.ConsultationFee,
		Notes:       req.Notes,
	}

	// The partial unique index on (doctor, date, slot_time) is the final
	// arbiter when two bookings race past the slot check above.
	created, err := s.Store.Create(ctx, appt)
	if err != nil {
		return nil, err
	}

	monitoring.TrackBooking(created.Priority)
	slog.Info("appointment booked",
		"appointment", created.ID,
		"doctor", created.DoctorID,
		"date", created.Date,
		"slot", created.SlotTime,
		"token", created.TokenNumber,
	)
	return created, nil
}

// CheckIn marks arrival and places the patient in the waiting queue. Only
// allowed on the appointment day itself; the queue holds nobody who is not
// physically waiting.
func (s *AppointmentService) CheckIn(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	appt, err := s.Store.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.Date != time.Now().Format(models.DateLayout) {
		return nil, status.ErrNotToday
	}
	if !models.CanTransition(appt.Status, models.StatusWaiting) {
		return nil, status.ErrIllegalTransition
	}

	now := time.Now()
	appt.Status = models.StatusWaiting
	appt.CheckedInAt = &now
	if err := s.Store.Update(ctx, appt); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, appt); err != nil {
		// The record already says waiting; recovery will re-enqueue on
		// restart, but surface the failure so the desk retries now.
		return nil, err
	}

	slog.Info("patient checked in", "appointment", appt.ID, "token", appt.TokenNumber, "priority", appt.Priority)
	return appt, nil
}

// CallNext pops the next waiting patient for the doctor's queue today and
// starts their consultation. Returns nil without error when the queue is
// empty or was never opened.
func (s *AppointmentService) CallNext(ctx context.Context, doctorID string) (*models.Appointment, error) {
	date := time.Now().Format(models.DateLayout)

	entry, err := s.Queue.CallNext(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	appt, err := s.Store.Find(ctx, entry.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("called %s but record lookup failed: %w", entry.AppointmentID, err)
	}
	if !models.CanTransition(appt.Status, models.StatusInProgress) {
		return nil, fmt.Errorf("called %s in status %q: %w", appt.ID, appt.Status, status.ErrIllegalTransition)
	}

	now := time.Now()
	appt.Status = models.StatusInProgress
	appt.ConsultStartedAt = &now
	if err := s.Store.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.Notifier.YourTurn(appt.ID, appt.TokenNumber)
	slog.Info("patient called", "appointment", appt.ID, "doctor", doctorID, "token", appt.TokenNumber)
	return appt, nil
}

// Complete ends an in-progress consultation and clears the serving token.
func (s *AppointmentService) Complete(ctx context.Context, appointmentID, notes string) (*models.Appointment, error) {
	appt, err := s.Store.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appt.Status, models.StatusCompleted) {
		return nil, status.ErrIllegalTransition
	}

	now := time.Now()
	appt.Status = models.StatusCompleted
	appt.ConsultEndedAt = &now
	if notes != "" {
		appt.Notes = notes
	}
	if err := s.Store.Update(ctx, appt); err != nil {
		return nil, err
	}

	if err := s.Queue.ResetCurrent(ctx, appt.DoctorID, appt.Date); err != nil {
		slog.Warn("resetting current token", "doctor", appt.DoctorID, "error", err)
	}

	slog.Info("consultation completed", "appointment", appt.ID, "token", appt.TokenNumber)
	return appt, nil
}

// Cancel releases the slot. A waiting patient is also removed from the
// queue, shifting everyone behind them forward.
func (s *AppointmentService) Cancel(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	return s.exitEarly(ctx, appointmentID, models.StatusCancelled)
}

// MarkNoShow records a patient who never turned up for their call.
func (s *AppointmentService) MarkNoShow(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	return s.exitEarly(ctx, appointmentID, models.StatusNoShow)
}

func (s *AppointmentService) exitEarly(ctx context.Context, appointmentID, to string) (*models.Appointment, error) {
	appt, err := s.Store.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appt.Status, to) {
		return nil, status.ErrIllegalTransition
	}

	wasWaiting := appt.Status == models.StatusWaiting

	appt.Status = to
	if err := s.Store.Update(ctx, appt); err != nil {
		return nil, err
	}

	if wasWaiting {
		if _, err := s.Queue.Remove(ctx, queueEntryFor(appt)); err != nil {
			slog.Warn("removing from queue", "appointment", appt.ID, "error", err)
		}
	}

	slog.Info("appointment closed", "appointment", appt.ID, "status", to)
	return appt, nil
}

// Position reports a waiting patient's place in line.
func (s *AppointmentService) Position(ctx context.Context, appointmentID string) (*models.QueuePosition, error) {
	appt, err := s.Store.Find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != models.StatusWaiting {
		return nil, status.ErrNotInQueue
	}
	return s.Queue.Position(ctx, appt.DoctorID, appt.Date, appt.ID)
}

// RecoverQueues re-enqueues today's still-waiting appointments after a
// restart that lost Redis state. Enqueue is idempotent, so running this
// against intact queues is harmless.
func (s *AppointmentService) RecoverQueues(ctx context.Context) error {
	today := time.Now().Format(models.DateLayout)

	waiting, err := s.Store.WaitingForDate(ctx, today)
	if err != nil {
		return fmt.Errorf("loading waiting appointments: %w", err)
	}

	recovered := 0
	for _, appt := range waiting {
		if err := s.enqueue(ctx, appt); err != nil {
			slog.Error("re-enqueueing appointment", "appointment", appt.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("recovered waiting queues", "appointments", recovered)
	}
	return nil
}

func (s *AppointmentService) enqueue(ctx context.Context, appt *models.Appointment) error {
	consult := s.Queue.Config.DefaultConsultationMinutes
	if cfg, err := s.Schedules.ConfigForClinic(ctx, appt.ClinicID); err == nil {
		consult = cfg.ConsultationMinutes
	}
	return s.Queue.Enqueue(ctx, queueEntryFor(appt), consult)
}

func queueEntryFor(appt *models.Appointment) *models.QueueEntry {
	enqueuedAt := time.Now()
	if appt.CheckedInAt != nil {
		enqueuedAt = *appt.CheckedInAt
	}
	return &models.QueueEntry{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		ClinicID:      appt.ClinicID,
		Date:          appt.Date,
		TokenNumber:   appt.TokenNumber,
		Priority:      appt.Priority,
		EnqueuedAt:    enqueuedAt,
	}
}
