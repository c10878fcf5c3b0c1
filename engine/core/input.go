package core

import "sync"

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

type KeyCode uint16

// Key codes mirror the platform layer's mapping; only the keys the engine
// and demo scenes react to are named.
const (
	KEY_UNKNOWN KeyCode = 0x00
	KEY_ESCAPE  KeyCode = 0x01
	KEY_SPACE   KeyCode = 0x02
	KEY_ENTER   KeyCode = 0x03
	KEY_TAB     KeyCode = 0x04

	KEY_LEFT  KeyCode = 0x10
	KEY_RIGHT KeyCode = 0x11
	KEY_UP    KeyCode = 0x12
	KEY_DOWN  KeyCode = 0x13

	KEY_W KeyCode = 0x20
	KEY_A KeyCode = 0x21
	KEY_S KeyCode = 0x22
	KEY_D KeyCode = 0x23

	KEY_F1 KeyCode = 0x30
	KEY_F2 KeyCode = 0x31

	KEYS_MAX_KEYS KeyCode = 0xFF
)

type MouseState struct {
	PosX    int32
	PosY    int32
	Buttons [BUTTON_MAX_BUTTONS]bool
}

type KeyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
	MouseCurrent     MouseState
	MousePrevious    MouseState
}

var onceInput sync.Once
var inputInitialized bool = false
var inputState *InputState = nil

func InputInitialize() error {
	onceInput.Do(func() {
		inputState = &InputState{}
	})
	inputInitialized = true
	return nil
}

func InputShutdown() error {
	inputInitialized = false
	return nil
}

// InputUpdate copies current state to previous. Call once at the end of each
// frame, after all input for the frame has been recorded.
func InputUpdate(deltaTime float64) error {
	if !inputInitialized {
		return nil
	}
	inputState.KeyboardPrevious = inputState.KeyboardCurrent
	inputState.MousePrevious = inputState.MouseCurrent
	return nil
}

func InputIsKeyDown(key KeyCode) bool {
	if !inputInitialized {
		return false
	}
	return inputState.KeyboardCurrent.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	if !inputInitialized {
		return false
	}
	return inputState.KeyboardPrevious.Keys[key]
}

// InputProcessKey records a key state change and fires the key event when the
// state actually changed.
func InputProcessKey(key KeyCode, pressed bool) {
	if !inputInitialized || key == KEY_UNKNOWN {
		return
	}
	if inputState.KeyboardCurrent.Keys[key] == pressed {
		return
	}
	inputState.KeyboardCurrent.Keys[key] = pressed

	ctx := EventContext{}
	ctx.Data.U32[0] = uint32(key)
	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	EventFire(code, nil, ctx)
}

func InputIsButtonDown(button Button) bool {
	if !inputInitialized {
		return false
	}
	return inputState.MouseCurrent.Buttons[button]
}

func InputWasButtonDown(button Button) bool {
	if !inputInitialized {
		return false
	}
	return inputState.MousePrevious.Buttons[button]
}

func InputProcessButton(button Button, pressed bool) {
	if !inputInitialized {
		return
	}
	inputState.MouseCurrent.Buttons[button] = pressed
}

func InputGetMousePosition() (int32, int32) {
	if !inputInitialized {
		return 0, 0
	}
	return inputState.MouseCurrent.PosX, inputState.MouseCurrent.PosY
}

func InputProcessMouseMove(x, y int32) {
	if !inputInitialized {
		return
	}
	inputState.MouseCurrent.PosX = x
	inputState.MouseCurrent.PosY = y
}
