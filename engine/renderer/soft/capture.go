package soft

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/bmp"

	"github.com/stratagfx/strata/engine/core"
	"github.com/stratagfx/strata/engine/math"
)

// CaptureBMP writes the last presented frame to disk. Handy for eyeballing
// headless output and for bug reports.
func (d *Device) CaptureBMP(path string) error {
	d.mu.Lock()
	presented := d.presented
	d.mu.Unlock()
	if presented == nil {
		return fmt.Errorf("no frame presented yet")
	}

	img := image.NewNRGBA(image.Rect(0, 0, presented.width, presented.height))
	for y := 0; y < presented.height; y++ {
		for x := 0; x < presented.width; x++ {
			px := presented.color[y*presented.width+x]
			img.SetNRGBA(x, y, color.NRGBA{
				R: toByte(px.X),
				G: toByte(px.Y),
				B: toByte(px.Z),
				A: toByte(px.W),
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := bmp.Encode(f, img); err != nil {
		return err
	}
	core.LogInfo("frame capture written to %s", path)
	return nil
}

func toByte(f float32) uint8 {
	return uint8(math.Clamp(f, 0.0, 1.0)*255.0 + 0.5)
}
