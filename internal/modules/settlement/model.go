// README: Settlement commands, reports and error kinds.
package settlement

import (
	"dispatchd/internal/errs"
	"dispatchd/internal/types"
)

// Credit provenance written to reservations.creditSource.
const (
	SourceTrigger  = "automatic-trigger"
	SourceRecovery = "recovery-manual"
)

const (
	OpCredit   = "credit"
	OpRecovery = "recovery"
)

var (
	ErrMissingID           = errs.New(errs.InvalidArgument, "INVALID_ARGUMENT", "reservation id is required")
	ErrReservationNotFound = errs.New(errs.NotFound, "RESERVATION_NOT_FOUND", "reservation not found")
	ErrNotCompleted        = errs.New(errs.FailedPrecondition, "COURSE_NOT_COMPLETED", "ride is not completed")
	ErrAlreadyCredited     = errs.New(errs.FailedPrecondition, "ALREADY_CREDITED", "driver already credited for this ride")
	ErrPaymentNotValidated = errs.New(errs.FailedPrecondition, "PAYMENT_NOT_VALIDATED", "payment not validated")
	ErrWrongDriver         = errs.New(errs.FailedPrecondition, "WRONG_DRIVER", "reservation is assigned to another driver")
	ErrNoDriver            = errs.New(errs.FailedPrecondition, "NO_DRIVER", "reservation has no assigned driver")
	ErrDriverNotFound      = errs.New(errs.NotFound, "DRIVER_NOT_FOUND", "driver not found")
	ErrInvalidPrice        = errs.New(errs.FailedPrecondition, "INVALID_PRICE", "estimated price must be positive")
)

type CreditCommand struct {
	ReservationID types.ID
	// ExpectedDriverID, when set, must match the reservation's driver at
	// commit time.
	ExpectedDriverID types.ID
	Source           string
}

type CreditResult struct {
	ReservationID types.ID `json:"reservationId"`
	DriverID      types.ID `json:"driverId"`
	Fare          int64    `json:"fare"`
	DriverShare   int64    `json:"driverShare"`
	PlatformShare int64    `json:"platformShare"`
}

type RecoveryItem struct {
	ReservationID types.ID `json:"reservationId"`
	Success       bool     `json:"success"`
	Amount        int64    `json:"amount,omitempty"`
	Code          string   `json:"code,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type RecoveryReport struct {
	Message string         `json:"message"`
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Details []RecoveryItem `json:"details"`
}
