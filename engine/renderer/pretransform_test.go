package renderer

import (
	"testing"

	"github.com/stratagfx/strata/engine/math"
)

func TestPretransformIdentity(t *testing.T) {
	tp := NewTransformPolicy()
	got := tp.PretransformFor(OrientationIdentity)
	if got.Data != math.NewMat4Identity().Data {
		t.Fatal("identity orientation must produce the identity matrix")
	}
}

func TestPretransformBitIdenticalAcrossCalls(t *testing.T) {
	tp := NewTransformPolicy()
	orientations := []SurfaceOrientation{
		OrientationIdentity,
		OrientationRotate90,
		OrientationRotate180,
		OrientationRotate270,
	}
	for _, o := range orientations {
		t.Run(o.String(), func(t *testing.T) {
			first := tp.PretransformFor(o)
			for i := 0; i < 8; i++ {
				if tp.PretransformFor(o).Data != first.Data {
					t.Fatalf("call %d returned different bits", i)
				}
			}
		})
	}
}

func TestPretransformIsPureRotation(t *testing.T) {
	tp := NewTransformPolicy()

	// A rotation about the view axis keeps Z and W, preserves vector
	// length, and its quarter turns compose back to identity.
	v := math.NewVec4(1, 0, 0, 1)
	for _, o := range []SurfaceOrientation{OrientationRotate90, OrientationRotate180, OrientationRotate270} {
		r := v.Transform(tp.PretransformFor(o))
		if !almostEqual(r.Z, 0) || !almostEqual(r.W, 1) {
			t.Fatalf("%s moved Z/W: %+v", o, r)
		}
		if !almostEqual(r.X*r.X+r.Y*r.Y, 1) {
			t.Fatalf("%s changed vector length: %+v", o, r)
		}
	}

	quarter := tp.PretransformFor(OrientationRotate90)
	full := quarter.Mul(quarter).Mul(quarter).Mul(quarter)
	if !full.Compare(math.NewMat4Identity(), 1e-5) {
		t.Fatal("four quarter turns do not compose to identity")
	}

	half := tp.PretransformFor(OrientationRotate180)
	if !quarter.Mul(quarter).Compare(half, 1e-5) {
		t.Fatal("two quarter turns do not equal the half turn")
	}
}

func almostEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-5
}
