package backuplabel

import (
	"testing"
	"time"
)

func TestNewLabelFull(t *testing.T) {
	now := time.Date(2026, 8, 3, 12, 30, 45, 0, time.UTC)
	label, err := NewLabel("", Full, now)
	if err != nil {
		t.Fatalf("NewLabel: %v", err)
	}
	want := "20260803-123045F"
	if label != want {
		t.Errorf("got %q, want %q", label, want)
	}
	if !IsFull(label) {
		t.Errorf("expected %q to match full grammar", label)
	}
}

func TestNewLabelDerived(t *testing.T) {
	prior := "20260803-123045F"
	now := time.Date(2026, 8, 3, 13, 0, 0, 0, time.UTC)

	incr, err := NewLabel(prior, Incr, now)
	if err != nil {
		t.Fatalf("NewLabel incr: %v", err)
	}
	if !IsIncr(incr) {
		t.Errorf("expected %q to match incr grammar", incr)
	}
	ancestor, err := AncestorFull(incr)
	if err != nil {
		t.Fatalf("AncestorFull: %v", err)
	}
	if ancestor != prior {
		t.Errorf("ancestor = %q, want %q", ancestor, prior)
	}

	diff, err := NewLabel(prior, Diff, now)
	if err != nil {
		t.Fatalf("NewLabel diff: %v", err)
	}
	if !IsDiff(diff) {
		t.Errorf("expected %q to match diff grammar", diff)
	}
}

func TestNewLabelDerivedRequiresPrior(t *testing.T) {
	if _, err := NewLabel("", Incr, time.Now()); err == nil {
		t.Error("expected error for missing prior")
	}
}

func TestFindPrior(t *testing.T) {
	labels := []string{
		"20260101-000000F",
		"20260101-000000_20260102-000000I",
		"20260201-000000F",
		"20260201-000000_20260202-000000D",
	}

	if got := FindPrior(labels, Full); got != "20260201-000000F" {
		t.Errorf("FindPrior(Full) = %q", got)
	}
	if got := FindPrior(labels, Diff); got != "20260201-000000F" {
		t.Errorf("FindPrior(Diff) = %q", got)
	}
	if got := FindPrior(labels, Incr); got != "20260201-000000_20260202-000000D" {
		t.Errorf("FindPrior(Incr) = %q", got)
	}
}

func TestFindPriorNoneExists(t *testing.T) {
	if got := FindPrior(nil, Full); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestPredicate(t *testing.T) {
	re, err := Predicate(true, false, true)
	if err != nil {
		t.Fatalf("Predicate: %v", err)
	}
	if !re.MatchString("20260101-000000F") {
		t.Error("expected full label to match")
	}
	if !re.MatchString("20260101-000000_20260102-000000I") {
		t.Error("expected incr label to match")
	}
	if re.MatchString("20260101-000000_20260102-000000D") {
		t.Error("expected diff label NOT to match")
	}
}

func TestPredicateRequiresOneType(t *testing.T) {
	if _, err := Predicate(false, false, false); err == nil {
		t.Error("expected error when no type requested")
	}
}

func TestTypeOf(t *testing.T) {
	cases := map[string]Type{
		"20260101-000000F":                          Full,
		"20260101-000000_20260102-000000D":           Diff,
		"20260101-000000_20260102-000000I":           Incr,
	}
	for label, want := range cases {
		got, err := TypeOf(label)
		if err != nil {
			t.Fatalf("TypeOf(%q): %v", label, err)
		}
		if got != want {
			t.Errorf("TypeOf(%q) = %v, want %v", label, got, want)
		}
	}
	if _, err := TypeOf("not-a-label"); err == nil {
		t.Error("expected error for malformed label")
	}
}
