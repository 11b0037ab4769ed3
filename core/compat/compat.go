// Package compat holds the ABO/Rh donor compatibility table.
package compat

import "github.com/hemolink/hemolink/core/model"

// donorsByRecipient maps a required (recipient) blood type to the set of
// donor types whose blood the recipient can receive, per standard ABO/Rh
// rules: O- is the universal donor, AB+ the universal recipient.
var donorsByRecipient = map[model.BloodType][]model.BloodType{
	model.ONeg:  {model.ONeg},
	model.OPos:  {model.ONeg, model.OPos},
	model.ANeg:  {model.ONeg, model.ANeg},
	model.APos:  {model.ONeg, model.OPos, model.ANeg, model.APos},
	model.BNeg:  {model.ONeg, model.BNeg},
	model.BPos:  {model.ONeg, model.OPos, model.BNeg, model.BPos},
	model.ABNeg: {model.ONeg, model.ANeg, model.BNeg, model.ABNeg},
	model.ABPos: {model.ONeg, model.OPos, model.ANeg, model.APos, model.BNeg, model.BPos, model.ABNeg, model.ABPos},
}

// DonorsFor returns the donor types acceptable for the required type. The
// result is a fresh copy and is never empty for a valid input; unknown types
// yield nil.
func DonorsFor(required model.BloodType) []model.BloodType {
	donors, ok := donorsByRecipient[required]
	if !ok {
		return nil
	}
	out := make([]model.BloodType, len(donors))
	copy(out, donors)
	return out
}

// CanDonate reports whether blood of the donor type may be given to a
// recipient of the required type.
func CanDonate(donor, required model.BloodType) bool {
	for _, d := range donorsByRecipient[required] {
		if d == donor {
			return true
		}
	}
	return false
}
