package core

import (
	"testing"
	"time"
)

func TestClockAdvancesOnlyAfterStart(t *testing.T) {
	c := NewClock()
	c.Update()
	if c.Elapsed() != 0 {
		t.Fatalf("unstarted clock reports %s", c.Elapsed())
	}

	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Update()
	if c.Elapsed() <= 0 {
		t.Fatalf("started clock reports %s after sleeping", c.Elapsed())
	}
}

func TestClockElapsedIsAnUpdateSnapshot(t *testing.T) {
	c := NewClock()
	c.Start()
	time.Sleep(time.Millisecond)
	c.Update()

	snap := c.Elapsed()
	time.Sleep(time.Millisecond)
	if c.Elapsed() != snap {
		t.Fatal("elapsed moved without an Update")
	}

	c.Update()
	if c.Elapsed() <= snap {
		t.Fatal("elapsed did not advance on Update")
	}
}

func TestClockStopFreezesElapsed(t *testing.T) {
	c := NewClock()
	c.Start()
	time.Sleep(time.Millisecond)
	c.Update()
	c.Stop()

	frozen := c.Elapsed()
	time.Sleep(time.Millisecond)
	c.Update()
	if c.Elapsed() != frozen {
		t.Fatalf("stopped clock moved from %s to %s", frozen, c.Elapsed())
	}
}
