package clock

import (
	"testing"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

func TestDayKeyIsUTC(t *testing.T) {
	c := NewSystemClock()

	// 23:30 in Tokyo on the 2nd is still the 1st in UTC
	tokyo := time.FixedZone("JST", 9*3600)
	local := time.Date(2026, 8, 2, 8, 30, 0, 0, tokyo)
	if got := c.DayKey(local); got != model.DayKey("2026-08-01") {
		t.Errorf("DayKey(%v) = %s, want 2026-08-01", local, got)
	}

	// the same instant yields the same key in every zone
	ny := time.FixedZone("EDT", -4*3600)
	if a, b := c.DayKey(local), c.DayKey(local.In(ny)); a != b {
		t.Errorf("zone-dependent day keys: %s vs %s", a, b)
	}
}

func TestDayKeyBoundary(t *testing.T) {
	c := NewSystemClock()
	before := time.Date(2026, 8, 1, 23, 59, 59, int(time.Second)-1, time.UTC)
	after := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	if got := c.DayKey(before); got != model.DayKey("2026-08-01") {
		t.Errorf("DayKey just before midnight = %s, want 2026-08-01", got)
	}
	if got := c.DayKey(after); got != model.DayKey("2026-08-02") {
		t.Errorf("DayKey at midnight = %s, want 2026-08-02", got)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(13 * time.Hour)
	if got := c.DayKey(c.Now()); got != model.DayKey("2026-08-02") {
		t.Errorf("DayKey after advance = %s, want 2026-08-02", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), start)
	}
}
