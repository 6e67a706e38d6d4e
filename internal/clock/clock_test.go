package clock

import (
	"testing"
	"time"
)

func TestVirtualAdvanceFiresDueTimers(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var fired []string

	v.AfterFunc(5*time.Second, func() { fired = append(fired, "a") })
	v.AfterFunc(10*time.Second, func() { fired = append(fired, "b") })

	v.Advance(4 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("no timer should have fired yet, got %v", fired)
	}

	v.Advance(2 * time.Second) // now at 6s
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("expected only %q to have fired, got %v", "a", fired)
	}

	v.Advance(10 * time.Second) // now at 16s
	if len(fired) != 2 || fired[1] != "b" {
		t.Fatalf("expected %q to have fired next, got %v", "b", fired)
	}
}

func TestVirtualStopPreventsFire(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	fired := false
	timer := v.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop() should succeed before deadline")
	}
	v.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer should not fire")
	}
}

func TestVirtualOrdersByDeadlineThenRegistration(t *testing.T) {
	v := NewVirtual(time.Unix(0, 0))
	var order []int
	v.AfterFunc(time.Second, func() { order = append(order, 1) })
	v.AfterFunc(time.Second, func() { order = append(order, 2) })
	v.Advance(time.Second)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected registration order [1 2], got %v", order)
	}
}
