package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for appointment dates.
const DateLayout = "2006-01-02"

type BreakWindow struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`
}

// ScheduleConfig is the immutable-per-day working calendar of a clinic.
type ScheduleConfig struct {
	ClinicID            string          `json:"clinic_id"`
	OpeningTime         string          `json:"opening_time"` // "HH:MM"
	ClosingTime         string          `json:"closing_time"`
	ConsultationMinutes int             `json:"consultation_minutes"`
	BufferMinutes       int             `json:"buffer_minutes"`
	BreakWindows        []BreakWindow   `json:"break_windows"`
	WorkingDays         []string        `json:"working_days"` // mon..sun
	ConsultationFee     decimal.Decimal `json:"consultation_fee"`
	Active              bool            `json:"active"`
}

// Slot is derived from a ScheduleConfig, never persisted.
type Slot struct {
	StartTime       string `json:"start_time"` // "HH:MM"
	DurationMinutes int    `json:"duration_minutes"`
	IsBooked        bool   `json:"is_booked"`
}

var weekdayCodes = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// WorksOn reports whether the clinic is open on the given weekday.
func (c *ScheduleConfig) WorksOn(day time.Weekday) bool {
	code := weekdayCodes[day]
	for _, d := range c.WorkingDays {
		if d == code {
			return true
		}
	}
	return false
}

// Validate checks the opening < closing and break-window invariants.
func (c *ScheduleConfig) Validate() error {
	opening, err := ParseClock(c.OpeningTime)
	if err != nil {
		return fmt.Errorf("opening_time: %w", err)
	}
	closing, err := ParseClock(c.ClosingTime)
	if err != nil {
		return fmt.Errorf("closing_time: %w", err)
	}
	if opening >= closing {
		return fmt.Errorf("opening %q must be before closing %q", c.OpeningTime, c.ClosingTime)
	}
	if c.ConsultationMinutes <= 0 {
		return fmt.Errorf("consultation_minutes must be positive, got %d", c.ConsultationMinutes)
	}
	if c.BufferMinutes < 0 {
		return fmt.Errorf("buffer_minutes must not be negative, got %d", c.BufferMinutes)
	}
	for _, bw := range c.BreakWindows {
		start, err := ParseClock(bw.Start)
		if err != nil {
			return fmt.Errorf("break start: %w", err)
		}
		end, err := ParseClock(bw.End)
		if err != nil {
			return fmt.Errorf("break end: %w", err)
		}
		if start >= end {
			return fmt.Errorf("break %q-%q is empty or inverted", bw.Start, bw.End)
		}
		if start < opening || end > closing {
			return fmt.Errorf("break %q-%q falls outside opening hours", bw.Start, bw.End)
		}
	}
	return nil
}

// ParseClock converts "HH:MM" to minute-of-day.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock converts minute-of-day back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
