package clock

import (
	"sync"
	"time"

	"github.com/kasboard/kasboard/src/model"
)

// Clock is the engine's single source of time. Day keys scope the daily vote
// budgets and must be derived from UTC regardless of host timezone.
type Clock interface {
	Now() time.Time
	DayKey(t time.Time) model.DayKey
}

type SystemClock struct{}

func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

func (c *SystemClock) DayKey(t time.Time) model.DayKey {
	return model.DayKey(t.UTC().Format("2006-01-02"))
}

// FakeClock is a settable clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) DayKey(t time.Time) model.DayKey {
	return model.DayKey(t.UTC().Format("2006-01-02"))
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
