package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_Now(t *testing.T) {
	c := NewFake(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("expected %v, got %v", epoch, c.Now())
	}
	c.Advance(3 * time.Second)
	if want := epoch.Add(3 * time.Second); !c.Now().Equal(want) {
		t.Errorf("expected %v, got %v", want, c.Now())
	}
}

func TestFake_AfterFuncFiresOnDeadline(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(10*time.Second, func() { fired++ })

	c.Advance(9 * time.Second)
	if fired != 0 {
		t.Fatalf("fired early")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("expected 1 call, got %d", fired)
	}
	c.Advance(time.Minute)
	if fired != 1 {
		t.Errorf("one-shot timer fired %d times", fired)
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
	c.Advance(time.Hour)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Armed() != 1 {
		t.Errorf("expected 1 armed timer, got %d", c.Armed())
	}
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("unexpected order %v", order)
	}
}

func TestTimer_NilStop(t *testing.T) {
	var timer *Timer
	if timer.Stop() {
		t.Error("nil timer Stop should be false")
	}
}
