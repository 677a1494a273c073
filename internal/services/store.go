package services

import (
	"context"

	"curevo/models"
)

// AppointmentStore is the persistence collaborator for appointment records.
// The production implementation sits on the PocketBase app; tests use an
// in-memory fake.
type AppointmentStore interface {
	Find(ctx context.Context, id string) (*models.Appointment, error)
	Create(ctx context.Context, a *models.Appointment) (*models.Appointment, error)
	Update(ctx context.Context, a *models.Appointment) error

	// BookedSlotTimes returns the slot_time values already held for a
	// doctor/date by appointments that still occupy their slot.
	BookedSlotTimes(ctx context.Context, doctorID, date string) ([]string, error)

	// WaitingForDate returns still-waiting appointments for a date in
	// check-in order, used to rebuild queues after a restart.
	WaitingForDate(ctx context.Context, date string) ([]*models.Appointment, error)
}

// ScheduleProvider resolves clinic/doctor directory data. Directory
// management itself is outside this core.
type ScheduleProvider interface {
	ConfigForClinic(ctx context.Context, clinicID string) (*models.ScheduleConfig, error)
	DoctorClinic(ctx context.Context, doctorID string) (string, error)
}
