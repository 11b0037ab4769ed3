package model

import "fmt"

// BloodType is one of the eight ABO/Rh combinations.
type BloodType string

const (
	ONeg  BloodType = "O-"
	OPos  BloodType = "O+"
	ANeg  BloodType = "A-"
	APos  BloodType = "A+"
	BNeg  BloodType = "B-"
	BPos  BloodType = "B+"
	ABNeg BloodType = "AB-"
	ABPos BloodType = "AB+"
)

// BloodTypes lists every valid blood type in a stable order.
var BloodTypes = []BloodType{ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos}

// ParseBloodType validates the given string and returns the matching type.
func ParseBloodType(s string) (BloodType, error) {
	for _, t := range BloodTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown blood type %q", s)
}

// Valid reports whether the type is one of the eight known combinations.
func (t BloodType) Valid() bool {
	_, err := ParseBloodType(string(t))
	return err == nil
}

func (t BloodType) String() string { return string(t) }
