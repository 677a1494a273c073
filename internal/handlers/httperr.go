package handlers

import (
	"errors"
	"net/http"

	"curevo/internal/status"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError maps service sentinels onto HTTP responses. Queue-empty and
// no-active-queue are not mapped here: handlers treat those as successful
// responses with called=false.
func apiError(err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidDate),
		errors.Is(err, status.ErrInvalidSlot),
		errors.Is(err, status.ErrInvalidPriority):
		return apis.NewBadRequestError(err.Error(), err)

	case errors.Is(err, status.ErrSlotTaken):
		return apis.NewApiError(http.StatusConflict, err.Error(), err)

	case errors.Is(err, status.ErrNotFound),
		errors.Is(err, status.ErrNotInQueue):
		return apis.NewNotFoundError(err.Error(), err)

	case errors.Is(err, status.ErrIllegalTransition),
		errors.Is(err, status.ErrNotToday),
		errors.Is(err, status.ErrClinicClosed):
		return apis.NewApiError(http.StatusUnprocessableEntity, err.Error(), err)

	default:
		return apis.NewApiError(http.StatusInternalServerError, "Something went wrong", err)
	}
}
