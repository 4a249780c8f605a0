// README: Dispatch commands, results and error values.
package dispatch

import (
	"time"

	"dispatchd/internal/errs"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/types"
)

// Assignment sources recorded on the reservation.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
)

// Operations recorded in dispatch_errors.
const (
	OpDispatch         = "dispatch"
	OpRedispatch       = "redispatch"
	OpAssignmentFailed = "assignment_failed"
)

type Outcome string

const (
	OutcomeAssigned    Outcome = "assigned"
	OutcomeManual      Outcome = "manual"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeSkipped     Outcome = "skipped"
	// OutcomeAborted means the commit transaction found a precondition no
	// longer held; nothing was written.
	OutcomeAborted Outcome = "aborted"
	OutcomeFailed  Outcome = "failed"
)

type Result struct {
	Outcome     Outcome
	DriverID    types.ID
	DistanceKm  float64
	ETA         time.Duration
	Approximate bool
}

type ManualAssignCommand struct {
	ReservationID types.ID
	DriverID      types.ID
}

type ManualAssignResult struct {
	Driver     driver.Summary `json:"driver"`
	DistanceKm *float64       `json:"distanceKm,omitempty"`
	ETAMinutes int            `json:"etaMinutes,omitempty"`
}

var (
	ErrMissingIDs          = errs.New(errs.InvalidArgument, "INVALID_ARGUMENT", "reservation id and driver id are required")
	ErrReservationNotFound = errs.New(errs.NotFound, "RESERVATION_NOT_FOUND", "reservation not found")
	ErrDriverNotFound      = errs.New(errs.NotFound, "DRIVER_NOT_FOUND", "driver not found")
	ErrReservationClosed   = errs.New(errs.FailedPrecondition, "RESERVATION_CLOSED", "reservation is completed or cancelled")
	ErrNotPending          = errs.New(errs.FailedPrecondition, "RESERVATION_NOT_PENDING", "reservation is no longer pending")
	ErrDriverBusy          = errs.New(errs.FailedPrecondition, "DRIVER_BUSY", "driver already holds a reservation")
	ErrDriverUnavailable   = errs.New(errs.FailedPrecondition, "DRIVER_UNAVAILABLE", "driver is not available")
	ErrDriverIneligible    = errs.New(errs.FailedPrecondition, "DRIVER_INELIGIBLE", "driver no longer eligible for dispatch")
	ErrNoPickup            = errs.New(errs.FailedPrecondition, "NO_PICKUP", "reservation has no resolvable pickup location")
)
