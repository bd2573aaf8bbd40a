package sched

import "testing"

func TestGlobalEpochOutdatedness(t *testing.T) {
	if GlobalEpoch.IsOutdated(NoEpochSet) {
		t.Fatalf("the never-popped sentinel must not read as outdated")
	}

	captured := GlobalEpoch.Current()
	if GlobalEpoch.IsOutdated(captured) {
		t.Fatalf("an epoch captured now cannot be outdated")
	}

	GlobalEpoch.Advance()
	if !GlobalEpoch.IsOutdated(captured) {
		t.Fatalf("epoch %d should be outdated after an advance", captured)
	}
}

func TestGlobalEpochMargin(t *testing.T) {
	GlobalEpoch.SetMargin(1)
	defer GlobalEpoch.SetMargin(0)

	captured := GlobalEpoch.Current()
	GlobalEpoch.Advance()
	if GlobalEpoch.IsOutdated(captured) {
		t.Fatalf("margin of one should hold back a single advance")
	}
	GlobalEpoch.Advance()
	if !GlobalEpoch.IsOutdated(captured) {
		t.Fatalf("two advances should exceed a margin of one")
	}
}
