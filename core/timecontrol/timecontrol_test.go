package timecontrol

import (
	"testing"

	"github.com/benbjohnson/clock"
)

func TestNewWithBackingHonorsExplicitZeroStart(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(mock.Now().Add(0))
	c := NewWithBacking(mock, 0)
	if c.Now() != 0 {
		t.Fatalf("NewWithBacking should honor the explicit start, got %d", c.Now())
	}
}

func TestSetTimeAllowsPastAndFuture(t *testing.T) {
	c := NewWithBacking(clock.NewMock(), 1000)
	prev := c.SetTime(500)
	if prev != 1000 {
		t.Fatalf("expected prior value 1000, got %d", prev)
	}
	if c.Now() != 500 {
		t.Fatalf("expected clock set to 500, got %d", c.Now())
	}
	c.SetTime(2000)
	if c.Now() != 2000 {
		t.Fatalf("expected clock set to 2000, got %d", c.Now())
	}
}

func TestIncreaseTimeIsAdditive(t *testing.T) {
	c := NewWithBacking(clock.NewMock(), 100)
	next := c.IncreaseTime(50)
	if next != 150 || c.Now() != 150 {
		t.Fatalf("expected 150, got %d", next)
	}
}
