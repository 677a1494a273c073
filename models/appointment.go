package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusBooked     = "booked"
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

const (
	PriorityNormal    = "normal"
	PriorityEmergency = "emergency"
)

type Appointment struct {
	ID               string          `json:"id"`
	PatientID        string          `json:"patient_id"`
	DoctorID         string          `json:"doctor_id"`
	ClinicID         string          `json:"clinic_id"`
	Date             string          `json:"date"`      // "YYYY-MM-DD", time-stripped
	SlotTime         string          `json:"slot_time"` // "HH:MM", a generated slot start
	TokenNumber      int64           `json:"token_number"`
	Status           string          `json:"status"`
	Priority         string          `json:"priority"`
	Ref              string          `json:"ref"`
	Fee              decimal.Decimal `json:"fee"`
	Notes            string          `json:"notes,omitempty"`
	CheckedInAt      *time.Time      `json:"checked_in_at,omitempty"`
	ConsultStartedAt *time.Time      `json:"consult_started_at,omitempty"`
	ConsultEndedAt   *time.Time      `json:"consult_ended_at,omitempty"`
}

// transitions holds the allowed status moves. Side exits to cancelled and
// no_show are only reachable before the consultation starts.
var transitions = map[string][]string{
	StatusBooked:     {StatusWaiting, StatusCancelled, StatusNoShow},
	StatusWaiting:    {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidPriority(p string) bool {
	return p == PriorityNormal || p == PriorityEmergency
}
