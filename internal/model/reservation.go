// README: Reservation document and its lifecycle state machine.
package model

import (
	"time"

	"dispatchd/internal/types"
)

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationAssigned  ReservationStatus = "assigned"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation field paths as stored in the reservations collection.
const (
	FieldStatus            = "status"
	FieldPickupApproximate = "pickupApproximate"
	FieldAssignedDriverID  = "assignedDriverId"
	FieldAssignedAt        = "assignedAt"
	FieldAssignmentSource  = "assignmentSource"
	FieldDistanceKm        = "distanceKm"
	FieldETAMinutes        = "etaMinutes"
	FieldPaymentValidated  = "paymentValidated"
	FieldDriverCredited    = "driverCredited"
	FieldCreditedAt        = "creditedAt"
	FieldCreditedAmount    = "creditedAmount"
	FieldPlatformAmount    = "platformAmount"
	FieldCreditSource      = "creditSource"
	FieldRejectedDrivers   = "rejectedDrivers"
	FieldAttemptCount      = "attemptCount"
	FieldCancelReason      = "cancelReason"
	FieldCancelledAt       = "cancelledAt"
	FieldCompletedAt       = "completedAt"
	FieldLastTimeoutAt     = "lastTimeoutAt"
)

type Reservation struct {
	ID                 types.ID          `firestore:"-"`
	Status             ReservationStatus `firestore:"status"`
	Pickup             *types.Point      `firestore:"pickup,omitempty"`
	PickupAddress      string            `firestore:"pickupAddress,omitempty"`
	PickupApproximate  bool              `firestore:"pickupApproximate,omitempty"`
	Destination        *types.Point      `firestore:"destination,omitempty"`
	DestinationAddress string            `firestore:"destinationAddress,omitempty"`
	AssignedDriverID   types.ID          `firestore:"assignedDriverId,omitempty"`
	AssignedAt         *time.Time        `firestore:"assignedAt,omitempty"`
	AssignmentSource   string            `firestore:"assignmentSource,omitempty"`
	DistanceKm         float64           `firestore:"distanceKm,omitempty"`
	ETAMinutes         int               `firestore:"etaMinutes,omitempty"`
	// EstimatedPrice is written by client apps either as a number or as a
	// formatted string; read it through Price.
	EstimatedPrice   any        `firestore:"estimatedPrice"`
	PaymentValidated bool       `firestore:"paymentValidated"`
	DriverCredited   bool       `firestore:"driverCredited"`
	CreditedAt       *time.Time `firestore:"creditedAt,omitempty"`
	CreditedAmount   int64      `firestore:"creditedAmount,omitempty"`
	PlatformAmount   int64      `firestore:"platformAmount,omitempty"`
	CreditSource     string     `firestore:"creditSource,omitempty"`
	RejectedDrivers  []types.ID `firestore:"rejectedDrivers,omitempty"`
	AttemptCount     int        `firestore:"attemptCount"`
	CancelReason     string     `firestore:"cancelReason,omitempty"`
	CancelledAt      *time.Time `firestore:"cancelledAt,omitempty"`
	CompletedAt      *time.Time `firestore:"completedAt,omitempty"`
	LastTimeoutAt    *time.Time `firestore:"lastTimeoutAt,omitempty"`
	CreatedAt        *time.Time `firestore:"createdAt,omitempty"`
}

// Price returns the estimated fare in whole currency units.
func (r *Reservation) Price() int64 {
	return types.ParseMoney(r.EstimatedPrice)
}

func (r *Reservation) Terminal() bool {
	return r.Status == ReservationCompleted || r.Status == ReservationCancelled
}

// HasRejected reports whether driverID previously let this reservation time out.
func (r *Reservation) HasRejected(driverID types.ID) bool {
	for _, id := range r.RejectedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}

// AllowedTransitions represents the reservation state flow as code. The
// assigned -> pending edge is the timeout revert.
var AllowedTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:  {ReservationAssigned, ReservationCancelled},
	ReservationAssigned: {ReservationCompleted, ReservationCancelled, ReservationPending},
}

func CanTransition(from, to ReservationStatus) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
