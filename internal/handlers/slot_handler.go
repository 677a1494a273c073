package handlers

import (
	"net/http"
	"time"

	"curevo/internal/services"
	"curevo/models"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type SlotHandler struct {
	app   *pocketbase.PocketBase
	slots *services.SlotService
}

func NewSlotHandler(app *pocketbase.PocketBase, slots *services.SlotService) *SlotHandler {
	return &SlotHandler{
		app:   app,
		slots: slots,
	}
}

// List - GET /api/v1/doctors/{id}/slots?date=YYYY-MM-DD
func (h *SlotHandler) List(e *core.RequestEvent) error {
	doctorID := e.Request.PathValue("id")

	dateStr := e.Request.URL.Query().Get("date")
	if dateStr == "" {
		dateStr = time.Now().Format(models.DateLayout)
	}
	date, err := time.ParseInLocation(models.DateLayout, dateStr, time.Local)
	if err != nil {
		return apis.NewBadRequestError("date must be YYYY-MM-DD", err)
	}

	slots, open, err := h.slots.ListSlots(e.Request.Context(), doctorID, date)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"doctor_id": doctorID,
		"date":      dateStr,
		"open":      open,
		"slots":     slots,
	})
}
