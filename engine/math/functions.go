package math

import (
	m "math"
)

const (
	K_PI float32 = 3.14159265358979323846
	/** @brief Smallest positive number where 1.0 + FLOAT_EPSILON != 0 */
	K_FLOAT_EPSILON float32 = 1.192092896e-07
)

/**
 * Note that these are here in order to prevent having to import the
 * entire <math.h> everywhere.
 */
func ksin(x float32) float32 {
	return float32(m.Sin(float64(x)))
}

func kcos(x float32) float32 {
	return float32(m.Cos(float64(x)))
}

func ktan(x float32) float32 {
	return float32(m.Tan(float64(x)))
}

func ksqrt(x float32) float32 {
	return float32(m.Sqrt(float64(x)))
}

func kabs(x float32) float32 {
	return float32(m.Abs(float64(x)))
}

// ------------------------------------------
// Vector 3
// ------------------------------------------

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Zero() Vec3 {
	return Vec3{}
}

func NewVec3One() Vec3 {
	return Vec3{X: 1.0, Y: 1.0, Z: 1.0}
}

func NewVec3Up() Vec3 {
	return Vec3{Y: 1.0}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

func (v Vec3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vec3) Length() float32 {
	return ksqrt(v.LengthSquared())
}

func (v Vec3) Normalized() Vec3 {
	length := v.Length()
	if length == 0 {
		return v
	}
	return Vec3{X: v.X / length, Y: v.Y / length, Z: v.Z / length}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	if kabs(v.X-other.X) > tolerance {
		return false
	}
	if kabs(v.Y-other.Y) > tolerance {
		return false
	}
	if kabs(v.Z-other.Z) > tolerance {
		return false
	}
	return true
}

// Transform applies the matrix to the vector as a point (w == 1).
func (v Vec3) Transform(mt Mat4) Vec3 {
	out := Vec3{}
	out.X = v.X*mt.Data[0] + v.Y*mt.Data[4] + v.Z*mt.Data[8] + 1.0*mt.Data[12]
	out.Y = v.X*mt.Data[1] + v.Y*mt.Data[5] + v.Z*mt.Data[9] + 1.0*mt.Data[13]
	out.Z = v.X*mt.Data[2] + v.Y*mt.Data[6] + v.Z*mt.Data[10] + 1.0*mt.Data[14]
	return out
}

func (v Vec3) ToVec4(w float32) Vec4 {
	return Vec4{X: v.X, Y: v.Y, Z: v.Z, W: w}
}

// ------------------------------------------
// Vector 4
// ------------------------------------------

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func NewVec4One() Vec4 {
	return Vec4{X: 1.0, Y: 1.0, Z: 1.0, W: 1.0}
}

func (v Vec4) ToVec3() Vec3 {
	return Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func (v Vec4) Mul(other Vec4) Vec4 {
	return Vec4{X: v.X * other.X, Y: v.Y * other.Y, Z: v.Z * other.Z, W: v.W * other.W}
}

func (v Vec4) Compare(other Vec4, tolerance float32) bool {
	if kabs(v.X-other.X) > tolerance {
		return false
	}
	if kabs(v.Y-other.Y) > tolerance {
		return false
	}
	if kabs(v.Z-other.Z) > tolerance {
		return false
	}
	if kabs(v.W-other.W) > tolerance {
		return false
	}
	return true
}

// Transform applies the matrix to the vector with its own w component.
func (v Vec4) Transform(mt Mat4) Vec4 {
	out := Vec4{}
	out.X = v.X*mt.Data[0] + v.Y*mt.Data[4] + v.Z*mt.Data[8] + v.W*mt.Data[12]
	out.Y = v.X*mt.Data[1] + v.Y*mt.Data[5] + v.Z*mt.Data[9] + v.W*mt.Data[13]
	out.Z = v.X*mt.Data[2] + v.Y*mt.Data[6] + v.Z*mt.Data[10] + v.W*mt.Data[14]
	out.W = v.X*mt.Data[3] + v.Y*mt.Data[7] + v.Z*mt.Data[11] + v.W*mt.Data[15]
	return out
}

// ------------------------------------------
// Matrix 4x4
// ------------------------------------------

func NewMat4Identity() Mat4 {
	outMatrix := Mat4{}
	outMatrix.Data[0] = 1.0
	outMatrix.Data[5] = 1.0
	outMatrix.Data[10] = 1.0
	outMatrix.Data[15] = 1.0
	return outMatrix
}

func (mt Mat4) Mul(other Mat4) Mat4 {
	outMatrix := NewMat4Identity()

	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			outMatrix.Data[row*4+col] = sum
		}
	}

	return outMatrix
}

func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTanFov := ktan(fovRadians * 0.5)
	outMatrix := Mat4{}
	outMatrix.Data[0] = 1.0 / (aspectRatio * halfTanFov)
	outMatrix.Data[5] = 1.0 / halfTanFov
	outMatrix.Data[10] = -((farClip + nearClip) / (farClip - nearClip))
	outMatrix.Data[11] = -1.0
	outMatrix.Data[14] = -((2.0 * farClip * nearClip) / (farClip - nearClip))
	return outMatrix
}

func NewMat4LookAt(position, target, up Vec3) Mat4 {
	outMatrix := Mat4{}
	zAxis := target.Sub(position).Normalized()
	xAxis := up.Cross(zAxis).Normalized()
	yAxis := zAxis.Cross(xAxis)

	outMatrix.Data[0] = xAxis.X
	outMatrix.Data[1] = yAxis.X
	outMatrix.Data[2] = -zAxis.X
	outMatrix.Data[4] = xAxis.Y
	outMatrix.Data[5] = yAxis.Y
	outMatrix.Data[6] = -zAxis.Y
	outMatrix.Data[8] = xAxis.Z
	outMatrix.Data[9] = yAxis.Z
	outMatrix.Data[10] = -zAxis.Z
	outMatrix.Data[12] = -xAxis.Dot(position)
	outMatrix.Data[13] = -yAxis.Dot(position)
	outMatrix.Data[14] = zAxis.Dot(position)
	outMatrix.Data[15] = 1.0

	return outMatrix
}

func NewMat4Transposed(matrix Mat4) Mat4 {
	outMatrix := NewMat4Identity()
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			outMatrix.Data[row*4+col] = matrix.Data[col*4+row]
		}
	}
	return outMatrix
}

func NewMat4Translation(position Vec3) Mat4 {
	outMatrix := NewMat4Identity()
	outMatrix.Data[12] = position.X
	outMatrix.Data[13] = position.Y
	outMatrix.Data[14] = position.Z
	return outMatrix
}

func NewMat4Scale(scale Vec3) Mat4 {
	outMatrix := NewMat4Identity()
	outMatrix.Data[0] = scale.X
	outMatrix.Data[5] = scale.Y
	outMatrix.Data[10] = scale.Z
	return outMatrix
}

func NewMat4EulerZ(angleRadians float32) Mat4 {
	outMatrix := NewMat4Identity()

	c := kcos(angleRadians)
	s := ksin(angleRadians)

	outMatrix.Data[0] = c
	outMatrix.Data[1] = s
	outMatrix.Data[4] = -s
	outMatrix.Data[5] = c
	return outMatrix
}

func (mt Mat4) Compare(other Mat4, tolerance float32) bool {
	for i := 0; i < 16; i++ {
		if kabs(mt.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}
