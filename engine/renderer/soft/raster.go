package soft

import (
	gomath "math"

	"github.com/stratagfx/strata/engine/math"
	"github.com/stratagfx/strata/engine/renderer"
)

// screenVertex is a vertex after projection and viewport mapping.
type screenVertex struct {
	x, y float32
	z    float32 // depth in [0, 1]
	u, v float32
}

// drawTriangles rasterizes the indexed triangle list with flat material
// shading. Interpolation is affine; the subpasses this backend exists to
// test use flat colors and full-screen quads, where affine and
// perspective-correct agree.
func drawTriangles(dst *target, depth *target, vertices []math.Vertex3D, indices []uint32, mvp math.Mat4, sp *shadeParams) {
	w := float32(dst.width)
	h := float32(dst.height)

	projected := make([]screenVertex, 0, 3)
	for tri := 0; tri+2 < len(indices); tri += 3 {
		projected = projected[:0]
		degenerate := false
		for k := 0; k < 3; k++ {
			idx := indices[tri+k]
			if int(idx) >= len(vertices) {
				degenerate = true
				break
			}
			vert := vertices[idx]
			clip := vert.Position.ToVec4(1.0).Transform(mvp)
			if clip.W <= 0 {
				// No clipping stage: triangles crossing the near plane are
				// dropped whole.
				degenerate = true
				break
			}
			inv := 1.0 / clip.W
			projected = append(projected, screenVertex{
				x: (clip.X*inv*0.5 + 0.5) * w,
				y: (clip.Y*inv*0.5 + 0.5) * h,
				z: math.Clamp(clip.Z*inv*0.5+0.5, 0.0, 1.0),
				u: vert.Texcoord.X,
				v: vert.Texcoord.Y,
			})
		}
		if degenerate {
			continue
		}
		fillTriangle(dst, depth, projected[0], projected[1], projected[2], sp)
	}
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func fillTriangle(dst *target, depth *target, v0, v1, v2 screenVertex, sp *shadeParams) {
	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	// Accept both windings; the sign just flips the barycentrics.
	sign := float32(1.0)
	if area < 0 {
		sign = -1.0
		area = -area
	}

	minX := int(gomath.Floor(float64(min3(v0.x, v1.x, v2.x))))
	maxX := int(gomath.Ceil(float64(max3(v0.x, v1.x, v2.x))))
	minY := int(gomath.Floor(float64(min3(v0.y, v1.y, v2.y))))
	maxY := int(gomath.Ceil(float64(max3(v0.y, v1.y, v2.y))))
	minX = math.Clamp(minX, 0, dst.width-1)
	maxX = math.Clamp(maxX, 0, dst.width-1)
	minY = math.Clamp(minY, 0, dst.height-1)
	maxY = math.Clamp(maxY, 0, dst.height-1)

	for py := minY; py <= maxY; py++ {
		for px := minX; px <= maxX; px++ {
			cx := float32(px) + 0.5
			cy := float32(py) + 0.5

			w0 := sign * edge(v1.x, v1.y, v2.x, v2.y, cx, cy)
			w1 := sign * edge(v2.x, v2.y, v0.x, v0.y, cx, cy)
			w2 := sign * edge(v0.x, v0.y, v1.x, v1.y, cx, cy)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			b0 := w0 / area
			b1 := w1 / area
			b2 := w2 / area

			z := b0*v0.z + b1*v1.z + b2*v2.z
			pixel := py*dst.width + px

			if depth != nil && sp.depthTest {
				if z > depth.depth[pixel] {
					continue
				}
				if sp.depthWrite {
					depth.depth[pixel] = z
				}
			}

			out := sp.color
			if sp.albedo != nil {
				u := b0*v0.u + b1*v1.u + b2*v2.u
				v := b0*v0.v + b1*v1.v + b2*v2.v
				out = out.Mul(sp.albedo.sample(u, v))
			}
			if sp.input != nil {
				// Input attachments are read at the fragment's own
				// position, the defining property of a subpass input.
				out = out.Mul(sp.input.color[pixel])
			}
			if sp.blend == renderer.BlendAlpha {
				prev := dst.color[pixel]
				a := out.W
				out = math.Vec4{
					X: out.X*a + prev.X*(1-a),
					Y: out.Y*a + prev.Y*(1-a),
					Z: out.Z*a + prev.Z*(1-a),
					W: out.W*a + prev.W*(1-a),
				}
			}
			dst.color[pixel] = out
		}
	}
}

func (t *texture) sample(u, v float32) math.Vec4 {
	x := math.Clamp(int(u*float32(t.width)), 0, t.width-1)
	y := math.Clamp(int(v*float32(t.height)), 0, t.height-1)
	o := (y*t.width + x) * 4
	return math.Vec4{
		X: float32(t.pixels[o]) / 255.0,
		Y: float32(t.pixels[o+1]) / 255.0,
		Z: float32(t.pixels[o+2]) / 255.0,
		W: float32(t.pixels[o+3]) / 255.0,
	}
}

func min3(a, b, c float32) float32 {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func max3(a, b, c float32) float32 {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}
