package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/artpar/llmgate/domain/ratelimit"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestAdmit_AllowsWithinCaps(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 3, PerMinute: 60}

	var s ratelimit.State
	var err error
	for i, offset := range []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond} {
		s, err = ratelimit.Admit(s, cfg, baseTime.Add(offset))
		if err != nil {
			t.Fatalf("admit %d: unexpected error %v", i, err)
		}
	}

	if len(s.Second) != 3 {
		t.Errorf("second window len = %d, want 3", len(s.Second))
	}
	if len(s.Minute) != 3 {
		t.Errorf("minute window len = %d, want 3", len(s.Minute))
	}
}

func TestAdmit_DeniesFourthWithinSecond(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 3, PerMinute: 60}

	var s ratelimit.State
	var err error
	for _, offset := range []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond} {
		s, err = ratelimit.Admit(s, cfg, baseTime.Add(offset))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	s, err = ratelimit.Admit(s, cfg, baseTime.Add(300*time.Millisecond))
	if err == nil {
		t.Fatal("expected fourth request within the second to be denied")
	}

	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error type = %T, want *LimitError", err)
	}
	if limitErr.Window != ratelimit.WindowSecond {
		t.Errorf("window = %q, want %q", limitErr.Window, ratelimit.WindowSecond)
	}
	if limitErr.Cap != 3 {
		t.Errorf("cap = %d, want 3", limitErr.Cap)
	}

	// The denied request must not have consumed a slot.
	if len(s.Second) != 3 {
		t.Errorf("second window len = %d after denial, want 3", len(s.Second))
	}
}

func TestAdmit_AllowsAfterOldestAgesOut(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 3, PerMinute: 60}

	var s ratelimit.State
	var err error
	for _, offset := range []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond} {
		s, err = ratelimit.Admit(s, cfg, baseTime.Add(offset))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// At t=1.05s the event at t=0 has aged out of the 1s window.
	s, err = ratelimit.Admit(s, cfg, baseTime.Add(1050*time.Millisecond))
	if err != nil {
		t.Fatalf("expected admit after age-out, got %v", err)
	}
	if len(s.Second) != 3 {
		t.Errorf("second window len = %d, want 3 (two live + one new)", len(s.Second))
	}
	if len(s.Minute) != 4 {
		t.Errorf("minute window len = %d, want 4", len(s.Minute))
	}
}

func TestAdmit_MinuteCapIndependentOfSecondCap(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 100, PerMinute: 5}

	var s ratelimit.State
	var err error
	for i := 0; i < 5; i++ {
		s, err = ratelimit.Admit(s, cfg, baseTime.Add(time.Duration(i)*100*time.Millisecond))
		if err != nil {
			t.Fatalf("admit %d: unexpected error %v", i, err)
		}
	}

	_, err = ratelimit.Admit(s, cfg, baseTime.Add(500*time.Millisecond))
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %v", err)
	}
	if limitErr.Window != ratelimit.WindowMinute {
		t.Errorf("window = %q, want %q", limitErr.Window, ratelimit.WindowMinute)
	}
	if limitErr.Cap != 5 {
		t.Errorf("cap = %d, want 5", limitErr.Cap)
	}
}

func TestAdmit_ReportsTightestWindowFirst(t *testing.T) {
	// Both caps violated; the per-second violation must win the report.
	cfg := ratelimit.Config{PerSecond: 1, PerMinute: 1}

	s, err := ratelimit.Admit(ratelimit.State{}, cfg, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = ratelimit.Admit(s, cfg, baseTime.Add(100*time.Millisecond))
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %v", err)
	}
	if limitErr.Window != ratelimit.WindowSecond {
		t.Errorf("window = %q, want %q (tightest first)", limitErr.Window, ratelimit.WindowSecond)
	}
}

func TestAdmit_RetryAfter(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 1, PerMinute: 60}

	s, err := ratelimit.Admit(ratelimit.State{}, cfg, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = ratelimit.Admit(s, cfg, baseTime.Add(400*time.Millisecond))
	var limitErr *ratelimit.LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitError, got %v", err)
	}
	if limitErr.RetryAfter != 600*time.Millisecond {
		t.Errorf("retryAfter = %v, want 600ms", limitErr.RetryAfter)
	}
}

func TestPrune_KeepsBoundaryTimestamp(t *testing.T) {
	w := ratelimit.Window{baseTime}

	// Exactly one window length later the event is still inside.
	got := ratelimit.Prune(w, baseTime.Add(time.Second), time.Second)
	if len(got) != 1 {
		t.Errorf("len = %d, want 1 (boundary timestamp kept)", len(got))
	}

	got = ratelimit.Prune(w, baseTime.Add(time.Second+time.Nanosecond), time.Second)
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 (past boundary pruned)", len(got))
	}
}

func TestRemaining_Idempotent(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 5, PerMinute: 10}

	var s ratelimit.State
	var err error
	for i := 0; i < 3; i++ {
		s, err = ratelimit.Admit(s, cfg, baseTime.Add(time.Duration(i)*10*time.Millisecond))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	now := baseTime.Add(500 * time.Millisecond)
	s1, snap1 := ratelimit.Remaining(s, cfg, now)
	s2, snap2 := ratelimit.Remaining(s1, cfg, now)

	if snap1 != snap2 {
		t.Errorf("snapshots differ: %+v vs %+v", snap1, snap2)
	}
	if len(s1.Second) != len(s2.Second) || len(s1.Minute) != len(s2.Minute) {
		t.Error("state changed between identical Remaining calls")
	}
	if snap1.PerSecond != 2 {
		t.Errorf("perSecond = %d, want 2", snap1.PerSecond)
	}
	if snap1.PerMinute != 7 {
		t.Errorf("perMinute = %d, want 7", snap1.PerMinute)
	}
}

func TestRemaining_ClampsToZero(t *testing.T) {
	cfg := ratelimit.Config{PerSecond: 5, PerMinute: 10}

	// More events than the cap, as after a cap decrease via reload.
	s := ratelimit.State{}
	for i := 0; i < 7; i++ {
		s.Second = ratelimit.Record(s.Second, baseTime)
		s.Minute = ratelimit.Record(s.Minute, baseTime)
	}

	_, snap := ratelimit.Remaining(s, cfg, baseTime.Add(100*time.Millisecond))
	if snap.PerSecond != 0 {
		t.Errorf("perSecond = %d, want 0", snap.PerSecond)
	}
	if snap.PerMinute != 3 {
		t.Errorf("perMinute = %d, want 3", snap.PerMinute)
	}
}

func BenchmarkAdmit(b *testing.B) {
	cfg := ratelimit.Config{PerSecond: 100, PerMinute: 1000}
	s := ratelimit.State{}
	now := baseTime

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		now = now.Add(time.Millisecond)
		s, _ = ratelimit.Admit(s, cfg, now)
	}
}
