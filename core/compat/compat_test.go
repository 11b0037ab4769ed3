package compat

import (
	"testing"

	"github.com/hemolink/hemolink/core/model"
)

func TestDonorsForNonEmptyAndDeterministic(t *testing.T) {
	for _, bt := range model.BloodTypes {
		first := DonorsFor(bt)
		if len(first) == 0 {
			t.Fatalf("no donors for %s", bt)
		}
		second := DonorsFor(bt)
		if len(first) != len(second) {
			t.Fatalf("non-deterministic donor set for %s", bt)
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("non-deterministic donor order for %s", bt)
			}
		}
	}
}

func TestUniversalDonorAndRecipient(t *testing.T) {
	for _, bt := range model.BloodTypes {
		if !CanDonate(model.ONeg, bt) {
			t.Errorf("O- should donate to %s", bt)
		}
		if !CanDonate(bt, model.ABPos) {
			t.Errorf("AB+ should receive from %s", bt)
		}
	}
}

func TestRhNegativeNeverReceivesPositive(t *testing.T) {
	for _, recipient := range []model.BloodType{model.ONeg, model.ANeg, model.BNeg, model.ABNeg} {
		for _, donor := range []model.BloodType{model.OPos, model.APos, model.BPos, model.ABPos} {
			if CanDonate(donor, recipient) {
				t.Errorf("%s must not receive %s", recipient, donor)
			}
		}
	}
}

func TestSelfCompatibility(t *testing.T) {
	for _, bt := range model.BloodTypes {
		if !CanDonate(bt, bt) {
			t.Errorf("%s should be compatible with itself", bt)
		}
	}
}

func TestDonorsForUnknownType(t *testing.T) {
	if donors := DonorsFor("Z+"); donors != nil {
		t.Fatalf("expected nil donors for unknown type, got %v", donors)
	}
}

func TestDonorsForCopyIsolation(t *testing.T) {
	donors := DonorsFor(model.APos)
	donors[0] = "mutated"
	if DonorsFor(model.APos)[0] == "mutated" {
		t.Fatal("DonorsFor must return a copy")
	}
}
