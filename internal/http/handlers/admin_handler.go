// README: Admin endpoints: manual assignment, credit recovery and on-demand jobs.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatchd/internal/modules/dispatch"
	"dispatchd/internal/modules/reassign"
	"dispatchd/internal/modules/reconcile"
	"dispatchd/internal/modules/settlement"
	"dispatchd/internal/types"
)

type Assigner interface {
	AssignManually(ctx context.Context, cmd dispatch.ManualAssignCommand) (*dispatch.ManualAssignResult, error)
}

type CreditRecoverer interface {
	RecoverMissed(ctx context.Context) (*settlement.RecoveryReport, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (reassign.Report, error)
}

type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

type AdminHandler struct {
	assigner   Assigner
	recoverer  CreditRecoverer
	sweeper    Sweeper
	reconciler Reconciler
}

func NewAdminHandler(a Assigner, r CreditRecoverer, s Sweeper, rc Reconciler) *AdminHandler {
	return &AdminHandler{assigner: a, recoverer: r, sweeper: s, reconciler: rc}
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *AdminHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		badRequest(c, "invalid reservation id")
		return
	}
	var req assignReq
	if !bindOptional(c, &req) {
		return
	}
	if req.DriverID != "" && !isValidID(req.DriverID) {
		badRequest(c, "invalid driver id")
		return
	}
	res, err := h.assigner.AssignManually(c.Request.Context(), dispatch.ManualAssignCommand{
		ReservationID: types.ID(id),
		DriverID:      types.ID(req.DriverID),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"success":    true,
		"driver":     res.Driver,
		"distanceKm": res.DistanceKm,
		"etaMinutes": res.ETAMinutes,
	})
}

func (h *AdminHandler) RecoverCredits(c *gin.Context) {
	rep, err := h.recoverer.RecoverMissed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"success": true,
		"message": rep.Message,
		"count":   rep.Count,
		"total":   rep.Total,
		"details": rep.Details,
	})
}

func (h *AdminHandler) RunReassign(c *gin.Context) {
	rep, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (h *AdminHandler) RunReconcile(c *gin.Context) {
	rep, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rep)
}
