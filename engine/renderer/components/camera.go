// Package components holds scene-side helpers built on the renderer's math
// types. They feed FrameDescription fields; the rendering core itself never
// depends on them.
package components

import (
	"github.com/stratagfx/strata/engine/math"
)

// Camera produces the view matrix for a frame. The matrix is rebuilt lazily:
// setters mark it dirty, GetView recalculates at most once per change.
type Camera struct {
	position math.Vec3
	target   math.Vec3
	up       math.Vec3

	isDirty    bool
	viewMatrix math.Mat4
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.position = math.NewVec3(0, 0, 2)
	c.target = math.NewVec3Zero()
	c.up = math.NewVec3Up()
	c.isDirty = true
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) SetTarget(target math.Vec3) {
	c.target = target
	c.isDirty = true
}

// MoveBy translates the camera and its target together.
func (c *Camera) MoveBy(delta math.Vec3) {
	c.position = c.position.Add(delta)
	c.target = c.target.Add(delta)
	c.isDirty = true
}

func (c *Camera) GetView() math.Mat4 {
	if c.isDirty {
		c.viewMatrix = math.NewMat4LookAt(c.position, c.target, c.up)
		c.isDirty = false
	}
	return c.viewMatrix
}
