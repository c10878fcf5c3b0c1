package math

import "testing"

func TestMat4MulIdentity(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3)).Mul(NewMat4Scale(NewVec3(2, 2, 2)))
	if !m.Mul(NewMat4Identity()).Compare(m, 1e-6) {
		t.Fatal("multiplying by identity changed the matrix")
	}
	if !NewMat4Identity().Mul(m).Compare(m, 1e-6) {
		t.Fatal("left identity changed the matrix")
	}
}

func TestVec4TransformTranslation(t *testing.T) {
	m := NewMat4Translation(NewVec3(10, -5, 3))
	got := NewVec4(1, 2, 3, 1).Transform(m)
	want := NewVec4(11, -3, 6, 1)
	if !got.Compare(want, 1e-6) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// Direction vectors (w = 0) ignore translation.
	dir := NewVec4(1, 0, 0, 0).Transform(m)
	if !dir.Compare(NewVec4(1, 0, 0, 0), 1e-6) {
		t.Fatalf("direction moved: %+v", dir)
	}
}

func TestEulerZQuarterTurn(t *testing.T) {
	m := NewMat4EulerZ(K_PI / 2)
	got := NewVec4(1, 0, 0, 1).Transform(m)
	if !got.Compare(NewVec4(0, 1, 0, 1), 1e-6) {
		t.Fatalf("rotated x axis to %+v", got)
	}
}

func TestLookAtPlacesCamera(t *testing.T) {
	view := NewMat4LookAt(NewVec3(0, 0, 2), NewVec3Zero(), NewVec3Up())

	// The camera position maps to the view-space origin.
	origin := NewVec4(0, 0, 2, 1).Transform(view)
	if !origin.Compare(NewVec4(0, 0, 0, 1), 1e-5) {
		t.Fatalf("camera position in view space: %+v", origin)
	}
	// A point in front of the camera lands on the negative z axis.
	front := NewVec4(0, 0, 0, 1).Transform(view)
	if front.Z >= 0 {
		t.Fatalf("look target not in front of camera: %+v", front)
	}
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := NewMat4Perspective(DegToRad(60), 1.0, 0.1, 100.0)

	near := NewVec4(0, 0, -0.1, 1).Transform(proj)
	far := NewVec4(0, 0, -100.0, 1).Transform(proj)

	if nz := near.Z / near.W; nz > -0.99 || nz < -1.01 {
		t.Fatalf("near plane maps to %f, want -1", nz)
	}
	if fz := far.Z / far.W; fz < 0.99 || fz > 1.01 {
		t.Fatalf("far plane maps to %f, want 1", fz)
	}
}

func TestVec3Ops(t *testing.T) {
	a := NewVec3(1, 2, 2)
	if a.Length() != 3 {
		t.Fatalf("length = %f", a.Length())
	}
	n := a.Normalized()
	if !almostEqual(n.Length(), 1) {
		t.Fatalf("normalized length = %f", n.Length())
	}
	if NewVec3(1, 0, 0).Cross(NewVec3(0, 1, 0)) != NewVec3(0, 0, 1) {
		t.Fatal("cross product broken")
	}
	if NewVec3(1, 2, 3).Dot(NewVec3(4, 5, 6)) != 32 {
		t.Fatal("dot product broken")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
	}
	for _, tc := range tests {
		if got := Clamp(tc.v, tc.lo, tc.hi); got != tc.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tc.v, tc.lo, tc.hi, got, tc.want)
		}
	}
}

func almostEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-5
}
