//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Shader packs compiled into assets/shaders. Each pack is a vertex stage, a
// fragment stage, and a layout file sharing a base name.
var shaderPacks = []string{"geometry", "composite"}

// Compiles every shader pack's GLSL stages to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

func buildShaders() error {
	for _, pack := range shaderPacks {
		src := fmt.Sprintf("assets/shaders/src/%s", pack)
		out := fmt.Sprintf("assets/shaders/%s", pack)
		if _, err := executeCmd("glslc", withArgs(src+".vert", "-o", out+".vert.spv"), withStream()); err != nil {
			return err
		}
		if _, err := executeCmd("glslc", withArgs(src+".frag", "-o", out+".frag.spv"), withStream()); err != nil {
			return err
		}
	}
	return nil
}
