package core

import (
	"errors"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 2000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestTypedIDs(t *testing.T) {
	task, batch := NewTaskID(), NewBatchID()
	if task.String() == "" || batch.String() == "" {
		t.Fatal("typed IDs should not be empty")
	}
	if task.String() == batch.String() {
		t.Errorf("task and batch IDs collided: %s", task)
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsInvalidSpecError(NewInvalidSpecError("empty term list")) {
		t.Error("expected invalid spec error to be detected")
	}
	if !IsFitConvergenceError(NewFitConvergenceError("lmm", errors.New("boom"))) {
		t.Error("expected convergence error to be detected")
	}
	if !IsNonNestedModelError(NewNonNestedModelError("y ~ a + b", "y ~ b")) {
		t.Error("expected non-nested error to be detected")
	}

	w := NewEmptySignificantRegionWarning("age")
	if !errors.Is(w, ErrEmptySignificantRegion) {
		t.Error("warning should unwrap to ErrEmptySignificantRegion")
	}
}

func TestHashStable(t *testing.T) {
	a := NewHash([]byte("y ~ s(age)"))
	if a != NewHash([]byte("y ~ s(age)")) {
		t.Error("hash should be deterministic")
	}
	if a == NewHash([]byte("y ~ s(age, k=5)")) {
		t.Error("different inputs should hash differently")
	}
	if len(a.Short()) != 12 {
		t.Errorf("Short() length = %d", len(a.Short()))
	}
}
