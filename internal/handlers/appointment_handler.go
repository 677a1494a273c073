package handlers

import (
	"errors"
	"net/http"

	"curevo/internal/services"
	"curevo/internal/status"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type AppointmentHandler struct {
	app          *pocketbase.PocketBase
	appointments *services.AppointmentService
	redis        *redis.Client
}

func NewAppointmentHandler(app *pocketbase.PocketBase, appointments *services.AppointmentService, redisClient *redis.Client) *AppointmentHandler {
	return &AppointmentHandler{
		app:          app,
		appointments: appointments,
		redis:        redisClient,
	}
}

// doctorKnown consults the active_doctors set so obviously bad doctor ids
// bounce before the booking path touches the database. An unsynced or
// empty set passes everything through; the service re-checks against the
// directory records either way.
func (h *AppointmentHandler) doctorKnown(e *core.RequestEvent, doctorID string) bool {
	ctx := e.Request.Context()
	total, err := h.redis.SCard(ctx, "active_doctors").Result()
	if err != nil || total == 0 {
		return true
	}
	known, err := h.redis.SIsMember(ctx, "active_doctors", doctorID).Result()
	return err != nil || known
}

// Book - POST /api/v1/appointments
func (h *AppointmentHandler) Book(e *core.RequestEvent) error {
	var req services.BookRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if req.PatientID == "" && e.Auth != nil {
		req.PatientID = e.Auth.Id
	}
	if req.PatientID == "" || req.DoctorID == "" || req.Date == "" || req.SlotTime == "" {
		return apis.NewBadRequestError("patient_id, doctor_id, date and slot_time are required", nil)
	}
	if !h.doctorKnown(e, req.DoctorID) {
		return apis.NewNotFoundError("Unknown doctor", nil)
	}

	appt, err := h.appointments.Book(e.Request.Context(), &req)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusCreated, appt)
}

// CheckIn - POST /api/v1/appointments/{id}/check-in
func (h *AppointmentHandler) CheckIn(e *core.RequestEvent) error {
	appt, err := h.appointments.CheckIn(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, appt)
}

// Cancel - POST /api/v1/appointments/{id}/cancel
func (h *AppointmentHandler) Cancel(e *core.RequestEvent) error {
	appt, err := h.appointments.Cancel(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, appt)
}

// Complete - POST /api/v1/appointments/{id}/complete
func (h *AppointmentHandler) Complete(e *core.RequestEvent) error {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	appt, err := h.appointments.Complete(e.Request.Context(), e.Request.PathValue("id"), req.Notes)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, appt)
}

// MarkNoShow - POST /api/v1/appointments/{id}/no-show
func (h *AppointmentHandler) MarkNoShow(e *core.RequestEvent) error {
	appt, err := h.appointments.MarkNoShow(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, appt)
}

// Position - GET /api/v1/appointments/{id}/position
func (h *AppointmentHandler) Position(e *core.RequestEvent) error {
	pos, err := h.appointments.Position(e.Request.Context(), e.Request.PathValue("id"))
	if err != nil {
		if errors.Is(err, status.ErrNotInQueue) {
			return e.JSON(http.StatusOK, map[string]any{"in_queue": false})
		}
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"in_queue":               true,
		"position":               pos.Position,
		"patients_ahead":         pos.PatientsAhead,
		"estimated_wait_minutes": pos.EstimatedWaitMinutes,
	})
}
