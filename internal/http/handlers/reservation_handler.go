// README: Reservation completion and cancellation endpoints.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/errs"
	"dispatchd/internal/http/middleware"
	"dispatchd/internal/modules/reservation"
	"dispatchd/internal/types"
)

type ReservationService interface {
	Complete(ctx context.Context, cmd reservation.CompleteCommand) error
	Cancel(ctx context.Context, cmd reservation.CancelCommand) error
}

type ReservationHandler struct {
	reservations ReservationService
}

func NewReservationHandler(svc ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: svc}
}

type completeReq struct {
	DriverID string `json:"driver_id"`
}

// Complete lets the assigned driver close their ride. Admin callers may
// complete on behalf of any driver.
func (h *ReservationHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		badRequest(c, "invalid reservation id")
		return
	}
	var req completeReq
	if !bindOptional(c, &req) {
		return
	}
	admin := middleware.IsAdmin(c)
	if req.DriverID == "" && !admin {
		req.DriverID = middleware.CallerUID(c)
	}
	if !admin && req.DriverID != middleware.CallerUID(c) {
		writeError(c, errs.New(errs.PermissionDenied, "WRONG_CALLER", "drivers may only complete their own rides"))
		return
	}
	err := h.reservations.Complete(c.Request.Context(), reservation.CompleteCommand{
		ReservationID: types.ID(id),
		DriverID:      types.ID(req.DriverID),
		Admin:         admin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "reservationId": id, "status": "completed"})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *ReservationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		badRequest(c, "invalid reservation id")
		return
	}
	var req cancelReq
	if !bindOptional(c, &req) {
		return
	}
	err := h.reservations.Cancel(c.Request.Context(), reservation.CancelCommand{
		ReservationID: types.ID(id),
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "reservationId": id, "status": "cancelled"})
}
