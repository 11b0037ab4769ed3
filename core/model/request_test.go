package model

import (
	"testing"
	"time"
)

func TestRequestValidate(t *testing.T) {
	r := Request{BloodType: ONeg, Units: 2, Urgency: UrgencyCritical}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestValidateRejectsBadUnits(t *testing.T) {
	r := Request{BloodType: ONeg, Units: 0, Urgency: UrgencyNormal}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for zero units")
	}
}

func TestRequestValidateRejectsUnknownType(t *testing.T) {
	r := Request{BloodType: "C+", Units: 1, Urgency: UrgencyNormal}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for unknown blood type")
	}
}

func TestRequestExpiredAt(t *testing.T) {
	now := time.Now()
	r := Request{ExpiresAt: now.Add(time.Hour)}
	if r.ExpiredAt(now) {
		t.Fatal("request should not be expired yet")
	}
	if !r.ExpiredAt(now.Add(2 * time.Hour)) {
		t.Fatal("request should be expired")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []RequestStatus{StatusCompleted, StatusExpired, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RequestStatus{StatusPending, StatusMatched} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseBloodType(t *testing.T) {
	for _, bt := range BloodTypes {
		got, err := ParseBloodType(string(bt))
		if err != nil || got != bt {
			t.Fatalf("parse %s: got %s err %v", bt, got, err)
		}
	}
	if _, err := ParseBloodType("O"); err == nil {
		t.Fatal("expected error for partial type")
	}
}
