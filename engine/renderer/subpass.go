package renderer

import (
	"fmt"

	"github.com/stratagfx/strata/engine/core"
)

// AttachmentID indexes into a pass layout's attachment list. Subpasses refer
// to attachments (including prior-subpass outputs) only through these
// indices, never through pointers; the references are validated once at
// build time.
type AttachmentID int

// AttachmentFormat is the coarse format class of an attachment.
type AttachmentFormat uint8

const (
	FormatColor AttachmentFormat = iota
	FormatDepth
)

// AttachmentDesc declares one attachment of a render pass. Presentable
// marks the image handed to the presentation collaborator after the last
// subpass.
type AttachmentDesc struct {
	Name        string
	Format      AttachmentFormat
	Presentable bool

	// Handle is assigned at build time so the attachment can be bound as a
	// subpass input through the ordinary resource path.
	Handle ResourceHandle
}

// SubpassDescriptor declares which attachments one subpass writes and which
// prior-subpass outputs it consumes in place.
type SubpassDescriptor struct {
	Name         string
	Colors       []AttachmentID
	DepthStencil *AttachmentID
	Inputs       []AttachmentID
}

// PassLayout is the validated input handed to the device when compiling the
// render pass object.
type PassLayout struct {
	Attachments []AttachmentDesc
	Subpasses   []SubpassDescriptor
	Extent      Extent
}

// Graph is a compiled subpass sequence: an immutable render-pass object
// reused by every frame until the surface is reconfigured, at which point it
// is rebuilt against the new attachment dimensions.
type Graph struct {
	layout PassLayout
	handle RenderPassHandle
}

// BuildGraph validates the descriptor sequence and compiles it through the
// device. The one structural invariant: an attachment consumed as input by
// subpass N must be written as a color output by some subpass earlier than N
// in the same sequence. Violations fail with a DanglingInputError naming the
// offending subpass and attachment.
func BuildGraph(device Device, attachments []AttachmentDesc, subpasses []SubpassDescriptor, extent Extent) (*Graph, error) {
	if len(subpasses) == 0 {
		return nil, fmt.Errorf("render graph needs at least one subpass")
	}

	layout := PassLayout{
		Attachments: make([]AttachmentDesc, len(attachments)),
		Subpasses:   subpasses,
		Extent:      extent,
	}
	copy(layout.Attachments, attachments)
	for i := range layout.Attachments {
		layout.Attachments[i].Handle = NewResourceHandle(ResourceInputAttachment)
	}

	// Attachments written so far, keyed by id. Filled in subpass order so a
	// forward or missing reference is caught as unwritten.
	written := make(map[AttachmentID]bool, len(attachments))

	for si, sp := range subpasses {
		for _, id := range sp.Colors {
			if int(id) < 0 || int(id) >= len(attachments) {
				return nil, fmt.Errorf("subpass %d: color attachment %d out of range", si, id)
			}
			if attachments[id].Format != FormatColor {
				return nil, fmt.Errorf("subpass %d: attachment %d is not a color attachment", si, id)
			}
		}
		if sp.DepthStencil != nil {
			id := *sp.DepthStencil
			if int(id) < 0 || int(id) >= len(attachments) {
				return nil, fmt.Errorf("subpass %d: depth attachment %d out of range", si, id)
			}
			if attachments[id].Format != FormatDepth {
				return nil, fmt.Errorf("subpass %d: attachment %d is not a depth attachment", si, id)
			}
		}
		for _, id := range sp.Inputs {
			if int(id) < 0 || int(id) >= len(attachments) || !written[id] {
				return nil, &DanglingInputError{Subpass: si, Attachment: id}
			}
		}
		// Outputs of this subpass become legal inputs for later ones.
		for _, id := range sp.Colors {
			written[id] = true
		}
	}

	handle, err := device.CreateRenderPass(&layout)
	if err != nil {
		return nil, fmt.Errorf("compiling render pass: %w", err)
	}

	core.LogDebug("render graph built: %d subpasses, %d attachments, %dx%d",
		len(subpasses), len(attachments), extent.Width, extent.Height)

	return &Graph{layout: layout, handle: handle}, nil
}

// Rebuild compiles a fresh graph with the same structure against a new
// extent. The old graph stays valid for frames already in flight; the caller
// swaps pointers under exclusive access and destroys the old handle once the
// device is idle.
func (g *Graph) Rebuild(device Device, extent Extent) (*Graph, error) {
	return BuildGraph(device, g.layout.Attachments, g.layout.Subpasses, extent)
}

// Destroy releases the compiled render-pass object.
func (g *Graph) Destroy(device Device) {
	if g.handle != nil {
		device.DestroyRenderPass(g.handle)
		g.handle = nil
	}
}

func (g *Graph) Handle() RenderPassHandle { return g.handle }

func (g *Graph) Extent() Extent { return g.layout.Extent }

func (g *Graph) SubpassCount() int { return len(g.layout.Subpasses) }

func (g *Graph) Subpass(i int) SubpassDescriptor { return g.layout.Subpasses[i] }

// AttachmentHandle returns the resource handle bound when a later subpass
// reads the attachment as input.
func (g *Graph) AttachmentHandle(id AttachmentID) ResourceHandle {
	return g.layout.Attachments[id].Handle
}
