// README: Driver document, eligibility rules and the duplicated current-job fields.
package model

import (
	"time"

	"dispatchd/internal/types"
)

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverEngaged   DriverStatus = "engaged"
	DriverOffline   DriverStatus = "offline"
)

// Driver field paths as stored in the drivers collection.
const (
	FieldDriverStatus        = "status"
	FieldCurrentRideID       = "currentRideId"
	FieldActiveReservationID = "activeReservationId"
	FieldWalletBalance       = "walletBalance"
	FieldLifetimeEarnings    = "lifetimeEarnings"
	FieldLastCreditAt        = "lastCreditAt"
	FieldLastAssignedAt      = "lastAssignedAt"
)

type Position struct {
	Lat       float64    `firestore:"lat"`
	Lng       float64    `firestore:"lng"`
	Timestamp *time.Time `firestore:"timestamp,omitempty"`
	Accuracy  float64    `firestore:"accuracy,omitempty"`
	Speed     float64    `firestore:"speed,omitempty"`
}

func (p *Position) Point() types.Point {
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

type Driver struct {
	ID       types.ID     `firestore:"-"`
	Status   DriverStatus `firestore:"status"`
	Position *Position    `firestore:"position,omitempty"`
	// CurrentRideID and ActiveReservationID both record the reservation the
	// driver is bound to. Older app versions only write currentRideId; the
	// reconciler keeps the pair equal and activeReservationId wins conflicts.
	CurrentRideID       types.ID   `firestore:"currentRideId,omitempty"`
	ActiveReservationID types.ID   `firestore:"activeReservationId,omitempty"`
	WalletBalance       int64      `firestore:"walletBalance"`
	LifetimeEarnings    int64      `firestore:"lifetimeEarnings"`
	LastCreditAt        *time.Time `firestore:"lastCreditAt,omitempty"`
	LastAssignedAt      *time.Time `firestore:"lastAssignedAt,omitempty"`
	DisplayName         string     `firestore:"displayName,omitempty"`
	Phone               string     `firestore:"phone,omitempty"`
	Vehicle             string     `firestore:"vehicle,omitempty"`
	FCMToken            string     `firestore:"fcmToken,omitempty"`
}

func (d *Driver) HasPosition() bool {
	return d.Position != nil && d.Position.Point().Valid()
}

func (d *Driver) MirrorsEmpty() bool {
	return d.CurrentRideID == "" && d.ActiveReservationID == ""
}

// HoldsReservation reports whether either job field points at id.
func (d *Driver) HoldsReservation(id types.ID) bool {
	return id != "" && (d.CurrentRideID == id || d.ActiveReservationID == id)
}

// Eligible reports whether the driver may be auto-dispatched.
func (d *Driver) Eligible(minWalletBalance int64) bool {
	return d.Status == DriverAvailable &&
		d.MirrorsEmpty() &&
		d.WalletBalance >= minWalletBalance &&
		d.HasPosition()
}

// ReconciledJob returns the value both job fields should hold and whether
// they currently diverge.
func (d *Driver) ReconciledJob() (types.ID, bool) {
	if d.CurrentRideID == d.ActiveReservationID {
		return "", false
	}
	if d.ActiveReservationID != "" {
		return d.ActiveReservationID, true
	}
	return d.CurrentRideID, true
}
