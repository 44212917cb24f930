package tedapi

import (
	"testing"
	"time"
)

func TestGovernor(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewGovernor()
	g.now = clock.now

	if !g.Allowed() {
		t.Fatal("new governor should allow requests")
	}
	if !g.Until().IsZero() {
		t.Errorf("Until() = %v, want zero", g.Until())
	}

	g.Trip(300 * time.Second)
	if g.Allowed() {
		t.Error("Allowed() = true during cooldown")
	}

	clock.advance(299 * time.Second)
	if g.Allowed() {
		t.Error("Allowed() = true one second before cooldown end")
	}

	clock.advance(time.Second)
	if !g.Allowed() {
		t.Error("Allowed() = false at cooldown end")
	}
}

func TestGovernor_RepeatedTripMovesWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	g := NewGovernor()
	g.now = clock.now

	g.Trip(DefaultCooldown)
	clock.advance(time.Minute)
	g.Trip(DefaultCooldown)

	want := time.Unix(1000, 0).Add(time.Minute + DefaultCooldown)
	if !g.Until().Equal(want) {
		t.Errorf("Until() = %v, want %v", g.Until(), want)
	}
}

func TestGovernor_Reset(t *testing.T) {
	g := NewGovernor()
	g.Trip(time.Hour)
	g.Reset()
	if !g.Allowed() {
		t.Error("Allowed() = false after Reset()")
	}
}
