package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"curevo/internal/status"
	"curevo/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

// PBAppointmentStore persists appointments in the PocketBase "appointments"
// collection.
type PBAppointmentStore struct {
	app core.App
}

func NewPBAppointmentStore(app core.App) *PBAppointmentStore {
	return &PBAppointmentStore{app: app}
}

func (s *PBAppointmentStore) Find(ctx context.Context, id string) (*models.Appointment, error) {
	record, err := s.app.FindRecordById("appointments", id)
	if err != nil {
		return nil, status.ErrNotFound
	}
	return recordToAppointment(record), nil
}

func (s *PBAppointmentStore) Create(ctx context.Context, a *models.Appointment) (*models.Appointment, error) {
	collection, err := s.app.FindCollectionByNameOrId("appointments")
	if err != nil {
		return nil, fmt.Errorf("appointments collection: %w", err)
	}

	record := core.NewRecord(collection)
	applyAppointment(record, a)

	if err := s.app.Save(record); err != nil {
		// The partial unique index on (doctor, date, slot_time) is the
		// backstop against two bookings racing past the availability check.
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, status.ErrSlotTaken
		}
		return nil, fmt.Errorf("save appointment: %w", err)
	}

	return recordToAppointment(record), nil
}

func (s *PBAppointmentStore) Update(ctx context.Context, a *models.Appointment) error {
	record, err := s.app.FindRecordById("appointments", a.ID)
	if err != nil {
		return status.ErrNotFound
	}

	applyAppointment(record, a)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	return nil
}

func (s *PBAppointmentStore) BookedSlotTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	var rows []dbx.NullStringMap
	err := s.app.DB().
		NewQuery("SELECT slot_time FROM appointments WHERE doctor = {:doctor} AND date = {:date} AND status NOT IN ('cancelled', 'no_show')").
		Bind(dbx.Params{"doctor": doctorID, "date": date}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("booked slot times for %s/%s: %w", doctorID, date, err)
	}

	times := make([]string, 0, len(rows))
	for _, row := range rows {
		if t := row["slot_time"].String; t != "" {
			times = append(times, t)
		}
	}
	return times, nil
}

func (s *PBAppointmentStore) WaitingForDate(ctx context.Context, date string) ([]*models.Appointment, error) {
	var rows []dbx.NullStringMap
	err := s.app.DB().
		NewQuery("SELECT id FROM appointments WHERE date = {:date} AND status = 'waiting' ORDER BY checked_in_at ASC").
		Bind(dbx.Params{"date": date}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("waiting appointments for %s: %w", date, err)
	}

	appointments := make([]*models.Appointment, 0, len(rows))
	for _, row := range rows {
		id := row["id"].String
		if id == "" {
			continue
		}
		a, err := s.Find(ctx, id)
		if err != nil {
			continue
		}
		appointments = append(appointments, a)
	}
	return appointments, nil
}

func applyAppointment(record *core.Record, a *models.Appointment) {
	record.Set("patient", a.PatientID)
	record.Set("doctor", a.DoctorID)
	record.Set("clinic", a.ClinicID)
	record.Set("date", a.Date)
	record.Set("slot_time", a.SlotTime)
	record.Set("token_number", a.TokenNumber)
	record.Set("status", a.Status)
	record.Set("priority", a.Priority)
	record.Set("ref", a.Ref)
	record.Set("fee", a.Fee.String())
	record.Set("notes", a.Notes)
	setTime(record, "checked_in_at", a.CheckedInAt)
	setTime(record, "consult_started_at", a.ConsultStartedAt)
	setTime(record, "consult_ended_at", a.ConsultEndedAt)
}

func setTime(record *core.Record, field string, t *time.Time) {
	if t != nil {
		record.Set(field, t.UTC())
	}
}

func recordToAppointment(record *core.Record) *models.Appointment {
	fee, _ := decimal.NewFromString(record.GetString("fee"))
	return &models.Appointment{
		ID:               record.Id,
		PatientID:        record.GetString("patient"),
		DoctorID:         record.GetString("doctor"),
		ClinicID:         record.GetString("clinic"),
		Date:             record.GetString("date"),
		SlotTime:         record.GetString("slot_time"),
		TokenNumber:      int64(record.GetInt("token_number")),
		Status:           record.GetString("status"),
		Priority:         record.GetString("priority"),
		Ref:              record.GetString("ref"),
		Fee:              fee,
		Notes:            record.GetString("notes"),
		CheckedInAt:      getTime(record, "checked_in_at"),
		ConsultStartedAt: getTime(record, "consult_started_at"),
		ConsultEndedAt:   getTime(record, "consult_ended_at"),
	}
}

func getTime(record *core.Record, field string) *time.Time {
	dt := record.GetDateTime(field)
	if dt.IsZero() {
		return nil
	}
	t := dt.Time()
	return &t
}

// PBScheduleProvider reads the clinic/doctor directory collections.
type PBScheduleProvider struct {
	app core.App
}

func NewPBScheduleProvider(app core.App) *PBScheduleProvider {
	return &PBScheduleProvider{app: app}
}

func (p *PBScheduleProvider) DoctorClinic(ctx context.Context, doctorID string) (string, error) {
	record, err := p.app.FindRecordById("doctors", doctorID)
	if err != nil {
		return "", status.ErrNotFound
	}
	if !record.GetBool("active") {
		return "", status.ErrNotFound
	}
	return record.GetString("clinic"), nil
}

func (p *PBScheduleProvider) ConfigForClinic(ctx context.Context, clinicID string) (*models.ScheduleConfig, error) {
	record, err := p.app.FindRecordById("clinics", clinicID)
	if err != nil {
		return nil, status.ErrNotFound
	}

	var breaks []models.BreakWindow
	if raw := record.GetString("break_windows"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &breaks); err != nil {
			return nil, fmt.Errorf("clinic %s break_windows: %w", clinicID, err)
		}
	}

	fee, _ := decimal.NewFromString(record.GetString("consultation_fee"))

	return &models.ScheduleConfig{
		ClinicID:            record.Id,
		OpeningTime:         record.GetString("opening_time"),
		ClosingTime:         record.GetString("closing_time"),
		ConsultationMinutes: record.GetInt("consultation_minutes"),
		BufferMinutes:       record.GetInt("buffer_minutes"),
		BreakWindows:        breaks,
		WorkingDays:         record.GetStringSlice("working_days"),
		ConsultationFee:     fee,
		Active:              record.GetBool("active"),
	}, nil
}
