package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func TestFakeClock(t *testing.T) {
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}

	c.Advance(90 * time.Minute)
	if got, want := c.Now(), epoch.Add(90*time.Minute); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}

	next := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	c.Set(next)
	if got := c.Now(); !got.Equal(next) {
		t.Fatalf("Now() after Set = %v, want %v", got, next)
	}
}

func TestRealClockMovesForward(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	if got.Before(before) {
		t.Fatalf("Real().Now() = %v, earlier than %v", got, before)
	}
}
