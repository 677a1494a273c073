package services

import (
	"context"
	"time"

	"curevo/internal/status"
	"curevo/models"
)

// SlotService turns a clinic's working calendar into bookable time slots.
type SlotService struct {
	schedules    ScheduleProvider
	appointments AppointmentStore
}

func NewSlotService(schedules ScheduleProvider, appointments AppointmentStore) *SlotService {
	return &SlotService{
		schedules:    schedules,
		appointments: appointments,
	}
}

// GenerateSlots derives the slot list for a date. It is pure and
// deterministic: the emitted start times are the booking keys, so the same
// config and booked set must always yield the same list. The second return
// is false when the clinic is closed that day (not an error).
func GenerateSlots(cfg *models.ScheduleConfig, date time.Time, booked []string) ([]models.Slot, bool) {
	if !cfg.Active || !cfg.WorksOn(date.Weekday()) {
		return nil, false
	}

	opening, err := models.ParseClock(cfg.OpeningTime)
	if err != nil {
		return nil, false
	}
	closing, err := models.ParseClock(cfg.ClosingTime)
	if err != nil {
		return nil, false
	}

	type window struct{ start, end int }
	breaks := make([]window, 0, len(cfg.BreakWindows))
	for _, bw := range cfg.BreakWindows {
		start, serr := models.ParseClock(bw.Start)
		end, eerr := models.ParseClock(bw.End)
		if serr != nil || eerr != nil {
			continue
		}
		breaks = append(breaks, window{start, end})
	}

	bookedSet := make(map[string]struct{}, len(booked))
	for _, t := range booked {
		bookedSet[t] = struct{}{}
	}

	step := cfg.ConsultationMinutes + cfg.BufferMinutes
	slots := []models.Slot{}

	cursor := opening
	for cursor+cfg.ConsultationMinutes <= closing {
		// If the step window touches a break, jump past the latest
		// overlapping break and retry without emitting a slot. Taking the
		// latest end handles adjacent and back-to-back breaks in one move.
		resume := -1
		for _, b := range breaks {
			if cursor < b.end && cursor+step > b.start {
				if b.end > resume {
					resume = b.end
				}
			}
		}
		if resume >= 0 {
			cursor = resume
			continue
		}

		start := models.FormatClock(cursor)
		_, taken := bookedSet[start]
		slots = append(slots, models.Slot{
			StartTime:       start,
			DurationMinutes: cfg.ConsultationMinutes,
			IsBooked:        taken,
		})
		cursor += step
	}

	return slots, true
}

// ListSlots resolves the doctor's clinic schedule and overlays the already
// booked times for the date.
func (s *SlotService) ListSlots(ctx context.Context, doctorID string, date time.Time) ([]models.Slot, bool, error) {
	clinicID, err := s.schedules.DoctorClinic(ctx, doctorID)
	if err != nil {
		return nil, false, err
	}

	cfg, err := s.schedules.ConfigForClinic(ctx, clinicID)
	if err != nil {
		return nil, false, err
	}

	booked, err := s.appointments.BookedSlotTimes(ctx, doctorID, date.Format(models.DateLayout))
	if err != nil {
		return nil, false, err
	}

	slots, open := GenerateSlots(cfg, date, booked)
	return slots, open, nil
}

// ValidateBookable checks that slotTime names a generated, unbooked slot.
func ValidateBookable(cfg *models.ScheduleConfig, date time.Time, booked []string, slotTime string) error {
	slots, open := GenerateSlots(cfg, date, booked)
	if !open {
		return status.ErrClinicClosed
	}
	for _, slot := range slots {
		if slot.StartTime == slotTime {
			if slot.IsBooked {
				return status.ErrSlotTaken
			}
			return nil
		}
	}
	return status.ErrInvalidSlot
}
