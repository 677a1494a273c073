package models

import (
	"time"
)

// QueueEntry is the JSON payload stored in a queue lane.
type QueueEntry struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	ClinicID      string    `json:"clinic_id"`
	Date          string    `json:"date"`
	TokenNumber   int64     `json:"token_number"`
	Priority      string    `json:"priority"` // normal, emergency
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// QueuePosition is the pollable answer for "where am I in line".
// Emergency entries always rank ahead of normal ones.
type QueuePosition struct {
	Position             int `json:"position"` // 1-based
	PatientsAhead        int `json:"patients_ahead"`
	EstimatedWaitMinutes int `json:"estimated_wait_minutes"`
}

// QueueMetrics is the aggregate view for board displays and dashboards.
type QueueMetrics struct {
	DoctorID         string    `json:"doctor_id"`
	Date             string    `json:"date"`
	CurrentToken     int64     `json:"current_token"`
	EmergencyWaiting int       `json:"emergency_waiting"`
	NormalWaiting    int       `json:"normal_waiting"`
	LastUpdated      time.Time `json:"last_updated"`
}

// WaitingCount is the combined lane length.
func (m *QueueMetrics) WaitingCount() int {
	return m.EmergencyWaiting + m.NormalWaiting
}
