package handlers

import (
	"net/http"
	"time"

	"curevo/internal/services"
	"curevo/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type AdminHandler struct {
	app   *pocketbase.PocketBase
	queue *services.QueueService
	redis *redis.Client
}

func NewAdminHandler(app *pocketbase.PocketBase, queue *services.QueueService, redis *redis.Client) *AdminHandler {
	return &AdminHandler{
		app:   app,
		queue: queue,
		redis: redis,
	}
}

// QueueDashboard - GET /api/v1/admin/queue-dashboard
//
// One row per live queue across all clinics, for the operations view.
func (h *AdminHandler) QueueDashboard(e *core.RequestEvent) error {
	if e.Auth == nil || e.Auth.Collection().Name != core.CollectionNameSuperusers {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	queues, err := h.queue.ActiveQueues(e.Request.Context())
	if err != nil {
		return apis.NewBadRequestError("Failed to load active queues", err)
	}

	rows := []map[string]any{}
	for _, q := range queues {
		row := map[string]any{
			"doctor_id":         q.DoctorID,
			"date":              q.Date,
			"current_token":     q.CurrentToken,
			"emergency_waiting": q.EmergencyWaiting,
			"normal_waiting":    q.NormalWaiting,
			"last_updated":      q.LastUpdated,
		}
		if doctor, err := h.app.FindRecordById("doctors", q.DoctorID); err == nil {
			row["doctor_name"] = doctor.GetString("name")
		}
		rows = append(rows, row)
	}

	return e.JSON(http.StatusOK, rows)
}

// QueueDetails - GET /api/v1/admin/queue-details?doctor_id=...&date=...
func (h *AdminHandler) QueueDetails(e *core.RequestEvent) error {
	if e.Auth == nil || e.Auth.Collection().Name != core.CollectionNameSuperusers {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}

	doctorID := e.Request.URL.Query().Get("doctor_id")
	if doctorID == "" {
		return apis.NewBadRequestError("doctor_id required", nil)
	}
	date := e.Request.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(models.DateLayout)
	}

	metrics, err := h.queue.Metrics(e.Request.Context(), doctorID, date)
	if err != nil {
		return apis.NewBadRequestError("Failed to load queue", err)
	}

	entries, err := h.queue.Entries(e.Request.Context(), doctorID, date)
	if err != nil {
		return apis.NewBadRequestError("Failed to load queue entries", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"metrics": metrics,
		"entries": entries,
	})
}
