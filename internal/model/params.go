// README: System parameters document (settings/dispatch), maintained by the admin console.
package model

// Params fields are pointers so an explicit zero in the document is told
// apart from an absent field.
type Params struct {
	AutoDispatchEnabled    *bool    `firestore:"autoDispatchEnabled"`
	SearchRadiusKm         *float64 `firestore:"searchRadiusKm"`
	ReassignTimeoutMinutes *int     `firestore:"reassignTimeoutMinutes"`
	MinWalletBalance       *int64   `firestore:"minWalletBalance"`
}
