package core

import "sync"

// EventContext carries the payload of a fired event. Only the fields
// meaningful for the fired code are populated.
type EventContext struct {
	Data struct {
		U64 [2]uint64
		U32 [4]uint32
		F32 [4]float32
		C   [2]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.data.u32[0];
	 * u32 height = data.data.u32[1];
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	// Surface orientation or configuration changed; the render graph must be
	// rebuilt before the next frame.
	/* Context usage:
	 * u32 orientation = data.data.u32[0];
	 * u32 width = data.data.u32[1];
	 * u32 height = data.data.u32[2];
	 */
	EVENT_CODE_SURFACE_RECONFIGURED SystemEventCode = 0x03

	// A shader pack on disk changed and was reloaded by the catalog.
	/* Context usage:
	 * c[0] = shader pack name
	 * u64 generation = data.data.u64[0];
	 */
	EVENT_CODE_SHADER_RELOADED SystemEventCode = 0x04

	// Keyboard key pressed/released.
	/* Context usage:
	 * u32 key = data.data.u32[0];
	 */
	EVENT_CODE_KEY_PRESSED  SystemEventCode = 0x05
	EVENT_CODE_KEY_RELEASED SystemEventCode = 0x06

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

const MAX_MESSAGE_CODES = 1024

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventCodeEntry struct {
	events []*registeredEvent
}

type eventSystemState struct {
	// Lookup table for event codes.
	registered [MAX_MESSAGE_CODES]eventCodeEntry
}

var onceEvent sync.Once
var isInitialized bool = false
var eventState *eventSystemState = nil

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listenerInst interface{}, data EventContext) bool

func EventInitialize() bool {
	if isInitialized {
		return false
	}
	onceEvent.Do(func() {
		eventState = &eventSystemState{}
	})
	isInitialized = true
	return true
}

func EventShutdown() error {
	for i := 0; i < MAX_MESSAGE_CODES; i++ {
		if len(eventState.registered[i].events) != 0 {
			eventState.registered[i].events = nil
		}
	}
	return nil
}

// Register to listen for when events are sent with the provided code. Events
// with duplicate listener/callback combos will not be registered again and
// will cause this to return false.
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if !isInitialized {
		return false
	}
	for _, re := range eventState.registered[code].events {
		if re.listener == listener {
			return false
		}
	}
	event := &registeredEvent{
		listener: listener,
		callback: onEvent,
	}
	eventState.registered[code].events = append(eventState.registered[code].events, event)
	return true
}

// Unregister a listener/callback combo for the given code.
func EventUnregister(code SystemEventCode, listener interface{}) bool {
	if !isInitialized {
		return false
	}
	for i, re := range eventState.registered[code].events {
		if re.listener == listener {
			eventState.registered[code].events = append(
				eventState.registered[code].events[:i],
				eventState.registered[code].events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire dispatches the event synchronously to every registered listener, in
// registration order. Reconfiguration events in particular rely on this:
// the renderer consumes them on the calling goroutine, before the next frame
// is recorded.
func EventFire(code SystemEventCode, sender interface{}, context EventContext) bool {
	if !isInitialized {
		return false
	}
	handled := false
	for _, re := range eventState.registered[code].events {
		if re.callback(code, sender, re.listener, context) {
			handled = true
		}
	}
	return handled
}
