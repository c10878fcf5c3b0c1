package renderer

import (
	"errors"
	"fmt"
)

var (
	// Bind errors: caller misuse of binding slots. Never retried.
	ErrLayoutMismatch = errors.New("binding slot is outside the bound pipeline layout")
	ErrKindMismatch   = errors.New("resource kind does not match the binding at this slot")
	ErrNoLayoutBound  = errors.New("no pipeline layout bound for recording")

	// Pipeline errors: fatal for the requested pipeline, isolated from the
	// rest of the cache.
	ErrCompilationFailed = errors.New("pipeline compilation failed")
	ErrUnknownShader     = errors.New("shader pack not present in the catalog")

	// Render errors.
	ErrFrameAcquireTimeout = errors.New("timed out waiting for frame slot reuse")
	ErrSurfaceOutOfDate    = errors.New("presentation surface out of date")
	ErrSurfaceLost         = errors.New("presentation surface lost")
	ErrFrameAbandoned      = errors.New("frame abandoned before submission")
)

// DanglingInputError reports a subpass declaring an input attachment that no
// earlier subpass produced.
type DanglingInputError struct {
	Subpass    int
	Attachment AttachmentID
}

func (e *DanglingInputError) Error() string {
	return fmt.Sprintf("subpass %d consumes attachment %d as input, but no earlier subpass writes it", e.Subpass, e.Attachment)
}

// FatalSurfaceLoss escalates repeated surface losses to the hosting
// application. It unwraps to ErrSurfaceLost.
type FatalSurfaceLoss struct {
	FrameNumber uint64
	Losses      int
}

func (e *FatalSurfaceLoss) Error() string {
	return fmt.Sprintf("surface lost %d consecutive times as of frame %d", e.Losses, e.FrameNumber)
}

func (e *FatalSurfaceLoss) Unwrap() error {
	return ErrSurfaceLost
}
