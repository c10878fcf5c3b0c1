package core

import "testing"

func TestEventRegisterFireUnregister(t *testing.T) {
	EventInitialize()
	t.Cleanup(func() { EventShutdown() })

	type listener struct{ calls int }
	l := &listener{}

	ok := EventRegister(EVENT_CODE_RESIZED, l, func(code SystemEventCode, sender, inst interface{}, data EventContext) bool {
		l.calls++
		if data.Data.U32[0] != 800 || data.Data.U32[1] != 600 {
			t.Errorf("payload = %v", data.Data.U32)
		}
		return true
	})
	if !ok {
		t.Fatal("register failed")
	}
	// The same listener cannot register twice for a code.
	if EventRegister(EVENT_CODE_RESIZED, l, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }) {
		t.Fatal("duplicate registration accepted")
	}

	ctx := EventContext{}
	ctx.Data.U32[0] = 800
	ctx.Data.U32[1] = 600
	if !EventFire(EVENT_CODE_RESIZED, nil, ctx) {
		t.Fatal("fire reported unhandled")
	}
	if l.calls != 1 {
		t.Fatalf("listener ran %d times, want 1", l.calls)
	}

	if !EventUnregister(EVENT_CODE_RESIZED, l) {
		t.Fatal("unregister failed")
	}
	EventFire(EVENT_CODE_RESIZED, nil, ctx)
	if l.calls != 1 {
		t.Fatal("listener ran after unregister")
	}
}

func TestEventFireUnknownCodeIsHarmless(t *testing.T) {
	EventInitialize()
	t.Cleanup(func() { EventShutdown() })

	if EventFire(MAX_EVENT_CODE-1, nil, EventContext{}) {
		t.Fatal("fire with no listeners should report unhandled")
	}
}
