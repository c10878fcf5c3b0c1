package renderer

import (
	"sync"

	"github.com/stratagfx/strata/engine/math"
)

// SurfaceOrientation is the physical rotation of the display relative to
// the rendered image.
type SurfaceOrientation int

const (
	OrientationIdentity SurfaceOrientation = iota
	OrientationRotate90
	OrientationRotate180
	OrientationRotate270
)

func (o SurfaceOrientation) String() string {
	switch o {
	case OrientationIdentity:
		return "identity"
	case OrientationRotate90:
		return "rotate-90"
	case OrientationRotate180:
		return "rotate-180"
	case OrientationRotate270:
		return "rotate-270"
	}
	return "unknown"
}

// TransformPolicy computes the pretransform matrix correcting for display
// rotation. The matrix is applied as the last transform in the vertex stage;
// getting it wrong silently rotates or mirrors every frame. Results are
// cached per orientation and bit-identical across calls.
type TransformPolicy struct {
	mu    sync.Mutex
	cache map[SurfaceOrientation]math.Mat4
}

func NewTransformPolicy() *TransformPolicy {
	return &TransformPolicy{
		cache: make(map[SurfaceOrientation]math.Mat4),
	}
}

// PretransformFor returns the correction matrix for the orientation: a pure
// rotation about the view axis with identity scale.
func (tp *TransformPolicy) PretransformFor(orientation SurfaceOrientation) math.Mat4 {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if mt, ok := tp.cache[orientation]; ok {
		return mt
	}

	var mt math.Mat4
	switch orientation {
	case OrientationRotate90:
		mt = math.NewMat4EulerZ(-math.K_PI / 2.0)
	case OrientationRotate180:
		mt = math.NewMat4EulerZ(-math.K_PI)
	case OrientationRotate270:
		mt = math.NewMat4EulerZ(-3.0 * math.K_PI / 2.0)
	default:
		mt = math.NewMat4Identity()
	}

	tp.cache[orientation] = mt
	return mt
}
