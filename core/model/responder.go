package model

import "time"

// Responder is a donor eligible to fulfill requests.
type Responder struct {
	ID        string    `json:"id"`
	BloodType BloodType `json:"blood_type"`

	// Location is nil when the responder never shared coordinates.
	Location *Location `json:"location,omitempty"`

	Available   bool `json:"available"`
	NotifyOptIn bool `json:"notify_opt_in"`

	// LastDonation is the zero time for responders who never donated.
	LastDonation time.Time `json:"last_donation,omitempty"`
}

// Eligible reports whether the responder may be contacted at all. Type
// compatibility is a separate concern handled by the compat package.
func (r Responder) Eligible() bool {
	return r.Available && r.NotifyOptIn
}

// DaysSinceDonation returns the number of whole days since the last
// donation, or a large value for responders who never donated.
func (r Responder) DaysSinceDonation(now time.Time) int {
	if r.LastDonation.IsZero() {
		return 1 << 20
	}
	return int(now.Sub(r.LastDonation).Hours() / 24)
}
