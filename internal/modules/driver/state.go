// README: Driver state writes shared by every path that binds or frees a driver.
package driver

import (
	"dispatchd/internal/model"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

// Summary is the driver card returned to admins after an assignment.
type Summary struct {
	ID      types.ID `json:"id"`
	Name    string   `json:"name,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Vehicle string   `json:"vehicle,omitempty"`
}

func Summarize(d *model.Driver) Summary {
	return Summary{ID: d.ID, Name: d.DisplayName, Phone: d.Phone, Vehicle: d.Vehicle}
}

// EngageUpdates binds a driver to reservation id, keeping both job fields equal.
func EngageUpdates(id types.ID) []store.Update {
	return []store.Update{
		{Field: model.FieldDriverStatus, Value: model.DriverEngaged},
		{Field: model.FieldCurrentRideID, Value: id},
		{Field: model.FieldActiveReservationID, Value: id},
		{Field: model.FieldLastAssignedAt, Value: store.ServerTimestamp},
	}
}

// ReleaseUpdates frees d from reservation id. It returns nil when neither job
// field references id, so a driver already moved on is never touched.
func ReleaseUpdates(d *model.Driver, id types.ID) []store.Update {
	if d == nil || !d.HoldsReservation(id) {
		return nil
	}
	return []store.Update{
		{Field: model.FieldDriverStatus, Value: model.DriverAvailable},
		{Field: model.FieldCurrentRideID, Value: store.Delete},
		{Field: model.FieldActiveReservationID, Value: store.Delete},
	}
}

// MirrorUpdates sets both job fields to job.
func MirrorUpdates(job types.ID) []store.Update {
	return []store.Update{
		{Field: model.FieldCurrentRideID, Value: job},
		{Field: model.FieldActiveReservationID, Value: job},
	}
}

// Release applies ReleaseUpdates inside tx. It reports whether a write was
// staged.
func Release(tx store.Tx, d *model.Driver, id types.ID) (bool, error) {
	ups := ReleaseUpdates(d, id)
	if ups == nil {
		return false, nil
	}
	return true, tx.UpdateDriver(d.ID, ups...)
}
