package model

import (
	"testing"

	"dispatchd/internal/types"
)

func TestDriverEligible(t *testing.T) {
	base := func() Driver {
		return Driver{
			ID:            "d1",
			Status:        DriverAvailable,
			Position:      &Position{Lat: 5.34, Lng: -4.02},
			WalletBalance: 1000,
		}
	}
	tests := []struct {
		name   string
		mutate func(d *Driver)
		want   bool
	}{
		{"eligible", func(d *Driver) {}, true},
		{"engaged status", func(d *Driver) { d.Status = DriverEngaged }, false},
		{"offline", func(d *Driver) { d.Status = DriverOffline }, false},
		{"legacy job field set", func(d *Driver) { d.CurrentRideID = "r9" }, false},
		{"new job field set", func(d *Driver) { d.ActiveReservationID = "r9" }, false},
		{"balance below minimum", func(d *Driver) { d.WalletBalance = 499 }, false},
		{"balance at minimum", func(d *Driver) { d.WalletBalance = 500 }, true},
		{"no position", func(d *Driver) { d.Position = nil }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(&d)
			if got := d.Eligible(500); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDriverReconciledJob(t *testing.T) {
	tests := []struct {
		name            string
		current, active types.ID
		want            types.ID
		repair          bool
	}{
		{"both empty", "", "", "", false},
		{"equal", "r1", "r1", "", false},
		{"only legacy", "r1", "", "r1", true},
		{"only new", "", "r2", "r2", true},
		{"both differ, new wins", "r1", "r2", "r2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Driver{CurrentRideID: tt.current, ActiveReservationID: tt.active}
			got, repair := d.ReconciledJob()
			if got != tt.want || repair != tt.repair {
				t.Errorf("ReconciledJob() = (%q, %v), want (%q, %v)", got, repair, tt.want, tt.repair)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(ReservationPending, ReservationAssigned) {
		t.Error("pending -> assigned must be allowed")
	}
	if !CanTransition(ReservationAssigned, ReservationPending) {
		t.Error("assigned -> pending (timeout revert) must be allowed")
	}
	if CanTransition(ReservationCompleted, ReservationCancelled) {
		t.Error("completed is terminal")
	}
	if CanTransition(ReservationPending, ReservationCompleted) {
		t.Error("pending cannot complete without a driver")
	}
}
