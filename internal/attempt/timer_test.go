package attempt

import "testing"

func TestCountdownTicksDownAndExpiresOnce(t *testing.T) {
	c := NewCountdown(3)
	if !c.Start() {
		t.Fatal("Start refused a non-zero countdown")
	}

	var got []int
	expiries := 0
	for i := 0; i < 5; i++ {
		rem, expired := c.Tick()
		got = append(got, rem)
		if expired {
			expiries++
		}
	}

	want := []int{2, 1, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("remaining sequence = %v, want %v", got, want)
		}
	}
	if expiries != 1 {
		t.Errorf("expired %d times, want 1", expiries)
	}
	if c.Running() {
		t.Error("countdown still running after expiry")
	}
}

func TestCountdownIsMonotonic(t *testing.T) {
	c := NewCountdown(10)
	c.Start()
	prev := c.Remaining()
	for i := 0; i < 20; i++ {
		rem, _ := c.Tick()
		if rem > prev {
			t.Fatalf("remaining went up from %d to %d", prev, rem)
		}
		if rem < 0 {
			t.Fatalf("remaining went negative: %d", rem)
		}
		prev = rem
	}
}

func TestCountdownIgnoresTicksWhenStopped(t *testing.T) {
	c := NewCountdown(5)
	if _, expired := c.Tick(); expired || c.Remaining() != 5 {
		t.Fatalf("tick before Start changed state: %d", c.Remaining())
	}

	c.Start()
	c.Tick()
	c.Stop()
	c.Stop()
	for i := 0; i < 3; i++ {
		c.Tick()
	}
	if c.Remaining() != 4 {
		t.Errorf("remaining = %d after stop, want 4", c.Remaining())
	}
}

func TestCountdownZeroAndNegative(t *testing.T) {
	if c := NewCountdown(-7); c.Remaining() != 0 {
		t.Errorf("negative seconds not floored: %d", c.Remaining())
	}
	c := NewCountdown(0)
	if c.Start() {
		t.Error("Start accepted a zero countdown")
	}
	if c.Running() {
		t.Error("zero countdown reports running")
	}
}
