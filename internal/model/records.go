// README: Append-only records consumed by notification delivery and admin dashboards.
package model

import (
	"time"

	"dispatchd/internal/types"
)

const (
	CollectionNotifications  = "notifications"
	CollectionCreditLogs     = "credit_logs"
	CollectionCreditErrors   = "credit_errors"
	CollectionDispatchErrors = "dispatch_errors"
)

const (
	AudienceDriver = "driver"
	AudienceAdmin  = "admin"
)

// Notification types.
const (
	NotifyNewAssignment          = "new_assignment"
	NotifyAssignmentExpired      = "assignment_expired"
	NotifyReservationCancelled   = "reservation_cancelled"
	NotifyCreditReceived         = "credit_received"
	NotifyDriverAssigned         = "driver_assigned"
	NotifyManualDispatchRequired = "manual_dispatch_required"
	NotifyNoDriverAvailable      = "no_driver_available"
	NotifyMirrorsRepaired        = "driver_state_repaired"
)

type Notification struct {
	Audience      string         `firestore:"audience"`
	DriverID      types.ID       `firestore:"driverId,omitempty"`
	Type          string         `firestore:"type"`
	ReservationID types.ID       `firestore:"reservationId,omitempty"`
	Amount        int64          `firestore:"amount,omitempty"`
	Message       string         `firestore:"message"`
	Data          map[string]any `firestore:"data,omitempty"`
	Read          bool           `firestore:"read"`
	Timestamp     time.Time      `firestore:"timestamp,serverTimestamp"`
}

type LedgerEntry struct {
	ReservationID types.ID  `firestore:"reservationId"`
	DriverID      types.ID  `firestore:"driverId"`
	Fare          int64     `firestore:"fare"`
	DriverShare   int64     `firestore:"driverShare"`
	PlatformShare int64     `firestore:"platformShare"`
	Source        string    `firestore:"source"`
	Success       bool      `firestore:"success"`
	Timestamp     time.Time `firestore:"timestamp,serverTimestamp"`
}

type ErrorRecord struct {
	Operation     string    `firestore:"operation"`
	ReservationID types.ID  `firestore:"reservationId,omitempty"`
	DriverID      types.ID  `firestore:"driverId,omitempty"`
	Kind          string    `firestore:"kind"`
	Code          string    `firestore:"code,omitempty"`
	Message       string    `firestore:"errorMessage"`
	Timestamp     time.Time `firestore:"timestamp,serverTimestamp"`
}
