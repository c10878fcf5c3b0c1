package core

import "testing"

func TestInputKeyStateRollsOver(t *testing.T) {
	EventInitialize()
	InputInitialize()
	t.Cleanup(func() {
		InputShutdown()
		EventShutdown()
	})

	InputProcessKey(KEY_W, true)
	if !InputIsKeyDown(KEY_W) {
		t.Fatal("key should be down")
	}
	if InputWasKeyDown(KEY_W) {
		t.Fatal("previous frame should not see the key yet")
	}

	InputUpdate(0.016)
	if !InputWasKeyDown(KEY_W) {
		t.Fatal("previous frame state did not roll over")
	}

	InputProcessKey(KEY_W, false)
	if InputIsKeyDown(KEY_W) {
		t.Fatal("key should be up")
	}
}

func TestInputKeyEventsFireOnEdges(t *testing.T) {
	EventInitialize()
	InputInitialize()
	t.Cleanup(func() {
		InputShutdown()
		EventShutdown()
	})

	presses := 0
	releases := 0
	EventRegister(EVENT_CODE_KEY_PRESSED, &presses, func(code SystemEventCode, sender, inst interface{}, data EventContext) bool {
		presses++
		return true
	})
	EventRegister(EVENT_CODE_KEY_RELEASED, &releases, func(code SystemEventCode, sender, inst interface{}, data EventContext) bool {
		releases++
		return true
	})

	InputProcessKey(KEY_SPACE, true)
	// Repeated press reports are not edges and fire nothing.
	InputProcessKey(KEY_SPACE, true)
	InputProcessKey(KEY_SPACE, false)

	if presses != 1 {
		t.Fatalf("press events = %d, want 1", presses)
	}
	if releases != 1 {
		t.Fatalf("release events = %d, want 1", releases)
	}
}

func TestInputMouse(t *testing.T) {
	EventInitialize()
	InputInitialize()
	t.Cleanup(func() {
		InputShutdown()
		EventShutdown()
	})

	InputProcessButton(BUTTON_LEFT, true)
	if !InputIsButtonDown(BUTTON_LEFT) {
		t.Fatal("button should be down")
	}
	InputUpdate(0.016)
	if !InputWasButtonDown(BUTTON_LEFT) {
		t.Fatal("previous frame state did not roll over")
	}

	InputProcessMouseMove(120, 240)
	x, y := InputGetMousePosition()
	if x != 120 || y != 240 {
		t.Fatalf("mouse at (%d, %d), want (120, 240)", x, y)
	}
}
