package handlers

import (
	"errors"
	"net/http"
	"time"

	"curevo/internal/services"
	"curevo/internal/status"
	"curevo/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type QueueHandler struct {
	app          *pocketbase.PocketBase
	appointments *services.AppointmentService
	queue        *services.QueueService
}

func NewQueueHandler(app *pocketbase.PocketBase, appointments *services.AppointmentService, queue *services.QueueService) *QueueHandler {
	return &QueueHandler{
		app:          app,
		appointments: appointments,
		queue:        queue,
	}
}

// CallNext - POST /api/v1/doctors/{id}/queue/call-next
//
// An empty or never-opened queue is a normal console outcome, reported as
// called=false rather than an error.
func (h *QueueHandler) CallNext(e *core.RequestEvent) error {
	doctorID := e.Request.PathValue("id")

	appt, err := h.appointments.CallNext(e.Request.Context(), doctorID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrQueueEmpty):
			return e.JSON(http.StatusOK, map[string]any{"called": false, "reason": "queue_empty"})
		case errors.Is(err, status.ErrNoActiveQueue):
			return e.JSON(http.StatusOK, map[string]any{"called": false, "reason": "no_active_queue"})
		default:
			return apiError(err)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"called":      true,
		"appointment": appt,
	})
}

// Status - GET /api/v1/doctors/{id}/queue
func (h *QueueHandler) Status(e *core.RequestEvent) error {
	doctorID := e.Request.PathValue("id")
	date := e.Request.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(models.DateLayout)
	}

	metrics, err := h.queue.Metrics(e.Request.Context(), doctorID, date)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, metrics)
}

// Board - GET /api/v1/clinics/{id}/board
//
// The waiting-room display: every active doctor in the clinic with the
// token being served and the count still waiting.
func (h *QueueHandler) Board(e *core.RequestEvent) error {
	clinicID := e.Request.PathValue("id")
	today := time.Now().Format(models.DateLayout)

	if _, err := h.app.FindRecordById("clinics", clinicID); err != nil {
		return apis.NewNotFoundError("Clinic not found", err)
	}

	doctors, err := h.app.FindRecordsByFilter(
		"doctors",
		"clinic = {:clinic} && active = true",
		"name", 0, 0,
		map[string]any{"clinic": clinicID},
	)
	if err != nil {
		return apis.NewBadRequestError("Failed to load doctors", err)
	}

	board := []map[string]any{}
	for _, doctor := range doctors {
		metrics, err := h.queue.Metrics(e.Request.Context(), doctor.Id, today)
		if err != nil {
			continue
		}
		board = append(board, map[string]any{
			"doctor_id":     doctor.Id,
			"doctor_name":   doctor.GetString("name"),
			"current_token": metrics.CurrentToken,
			"waiting_count": metrics.WaitingCount(),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"clinic_id": clinicID,
		"date":      today,
		"board":     board,
	})
}
