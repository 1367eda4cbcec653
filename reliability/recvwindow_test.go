package reliability

import (
	"testing"
	"time"
)

func TestRecvWindowInOrderDelivery(t *testing.T) {
	w := NewRecvWindow(16)
	now := time.Now()

	for seq := uint64(0); seq < 5; seq++ {
		res, delivered := w.Record(seq, now)
		if res != New {
			t.Fatalf("seq %d: expected New, got %v", seq, res)
		}
		if len(delivered) != 1 || delivered[0] != seq {
			t.Fatalf("seq %d: expected immediate delivery, got %v", seq, delivered)
		}
	}
	if w.Base() != 5 {
		t.Fatalf("expected base 5, got %d", w.Base())
	}
}

func TestRecvWindowOutOfOrderThenGapFill(t *testing.T) {
	w := NewRecvWindow(16)
	now := time.Now()

	// seq 1 arrives before seq 0: it's New but not yet delivered.
	res, delivered := w.Record(1, now)
	if res != New || delivered != nil {
		t.Fatalf("seq 1 out of order: got res=%v delivered=%v", res, delivered)
	}

	// seq 0 arrives: both 0 and 1 become deliverable in order.
	res, delivered = w.Record(0, now)
	if res != New {
		t.Fatalf("seq 0: expected New, got %v", res)
	}
	if len(delivered) != 2 || delivered[0] != 0 || delivered[1] != 1 {
		t.Fatalf("expected [0 1] delivered in order, got %v", delivered)
	}
}

func TestRecvWindowDuplicate(t *testing.T) {
	w := NewRecvWindow(16)
	now := time.Now()
	w.Record(0, now)

	res, _ := w.Record(0, now)
	if res != Duplicate {
		t.Fatalf("expected Duplicate, got %v", res)
	}
}

func TestRecvWindowOutOfWindow(t *testing.T) {
	w := NewRecvWindow(4)
	now := time.Now()

	res, _ := w.Record(10, now)
	if res != OutOfWindow {
		t.Fatalf("expected OutOfWindow, got %v", res)
	}
}

func TestRecvWindowGapsReportsMissing(t *testing.T) {
	w := NewRecvWindow(8)
	now := time.Now()
	w.Record(0, now)
	w.Record(3, now) // leaves 1 and 2 as gaps

	gaps := w.Gaps(now, 3)
	found := map[uint64]bool{}
	for _, g := range gaps {
		found[g] = true
	}
	if !found[1] || !found[2] {
		t.Fatalf("expected gaps at 1 and 2, got %v", gaps)
	}
	if found[0] || found[3] {
		t.Fatalf("received sequences should not be reported as gaps: %v", gaps)
	}
}

func TestRecvWindowGapsBoundedByHighestSeen(t *testing.T) {
	w := NewRecvWindow(16)
	now := time.Now()
	w.Record(0, now)
	w.Record(2, now) // highest seen so far; seq 1 is a real gap

	// Even though the window spans up to base+16, only sequences the
	// sender is known to have transmitted (<= highestSeen) should be
	// reported, or a healthy connection gets NAKed for traffic that
	// was never sent.
	gaps := w.Gaps(now, 2)
	if len(gaps) != 1 || gaps[0] != 1 {
		t.Fatalf("expected only gap [1], got %v", gaps)
	}
}
