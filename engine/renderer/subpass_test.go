package renderer

import (
	"errors"
	"testing"
)

func attID(i int) *AttachmentID {
	id := AttachmentID(i)
	return &id
}

func TestBuildGraphValid(t *testing.T) {
	dev := &stubDevice{}
	attachments := []AttachmentDesc{
		{Name: "scene_color", Format: FormatColor},
		{Name: "scene_depth", Format: FormatDepth},
		{Name: "backbuffer", Format: FormatColor, Presentable: true},
	}
	subpasses := []SubpassDescriptor{
		{Name: "geometry", Colors: []AttachmentID{0}, DepthStencil: attID(1)},
		{Name: "composite", Colors: []AttachmentID{2}, Inputs: []AttachmentID{0}},
	}

	g, err := BuildGraph(dev, attachments, subpasses, Extent{Width: 64, Height: 64})
	if err != nil {
		t.Fatal(err)
	}
	if g.SubpassCount() != 2 {
		t.Fatalf("subpass count = %d, want 2", g.SubpassCount())
	}
	if g.Extent() != (Extent{Width: 64, Height: 64}) {
		t.Fatalf("extent = %+v", g.Extent())
	}

	// Every attachment gets a bindable handle of the input-attachment kind.
	for i := range attachments {
		h := g.AttachmentHandle(AttachmentID(i))
		if h.IsZero() {
			t.Fatalf("attachment %d has no handle", i)
		}
		if h.Kind != ResourceInputAttachment {
			t.Fatalf("attachment %d handle kind = %d", i, h.Kind)
		}
	}

	// The caller's slice is not mutated by handle assignment.
	if !attachments[0].Handle.IsZero() {
		t.Fatal("BuildGraph wrote handles into the caller's attachment slice")
	}
}

func TestBuildGraphValidation(t *testing.T) {
	attachments := []AttachmentDesc{
		{Name: "color_a", Format: FormatColor},
		{Name: "depth", Format: FormatDepth},
		{Name: "color_b", Format: FormatColor, Presentable: true},
	}

	tests := []struct {
		name         string
		subpasses    []SubpassDescriptor
		wantDangling bool
		// For dangling cases, the expected error fields.
		subpass    int
		attachment AttachmentID
	}{
		{
			name:      "no subpasses",
			subpasses: nil,
		},
		{
			name: "color out of range",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{5}},
			},
		},
		{
			name: "depth attachment used as color",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{1}},
			},
		},
		{
			name: "color attachment used as depth",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{0}, DepthStencil: attID(2)},
			},
		},
		{
			name: "input never written",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{0}},
				{Colors: []AttachmentID{2}, Inputs: []AttachmentID{5}},
			},
			wantDangling: true,
			subpass:      1,
			attachment:   5,
		},
		{
			name: "input written by no earlier subpass",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{0}, Inputs: []AttachmentID{2}},
				{Colors: []AttachmentID{2}},
			},
			wantDangling: true,
			subpass:      0,
			attachment:   2,
		},
		{
			name: "input written only by the same subpass",
			subpasses: []SubpassDescriptor{
				{Colors: []AttachmentID{0}, Inputs: []AttachmentID{0}},
			},
			wantDangling: true,
			subpass:      0,
			attachment:   0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildGraph(&stubDevice{}, attachments, tc.subpasses, Extent{Width: 8, Height: 8})
			if err == nil {
				t.Fatal("expected an error")
			}
			var dangling *DanglingInputError
			if errors.As(err, &dangling) != tc.wantDangling {
				t.Fatalf("dangling = %v, want %v (err: %v)", !tc.wantDangling, tc.wantDangling, err)
			}
			if tc.wantDangling {
				if dangling.Subpass != tc.subpass || dangling.Attachment != tc.attachment {
					t.Fatalf("dangling reports subpass %d attachment %d, want %d/%d",
						dangling.Subpass, dangling.Attachment, tc.subpass, tc.attachment)
				}
			}
		})
	}
}

func TestGraphRebuildKeepsStructure(t *testing.T) {
	dev := &stubDevice{}
	attachments := []AttachmentDesc{
		{Name: "color", Format: FormatColor, Presentable: true},
	}
	subpasses := []SubpassDescriptor{
		{Name: "only", Colors: []AttachmentID{0}},
	}

	g, err := BuildGraph(dev, attachments, subpasses, Extent{Width: 32, Height: 32})
	if err != nil {
		t.Fatal(err)
	}

	rebuilt, err := g.Rebuild(dev, Extent{Width: 128, Height: 256})
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Extent() != (Extent{Width: 128, Height: 256}) {
		t.Fatalf("rebuilt extent = %+v", rebuilt.Extent())
	}
	if rebuilt.SubpassCount() != g.SubpassCount() {
		t.Fatal("rebuild changed the subpass structure")
	}
	// The old graph's handles stay valid for in-flight frames; the rebuilt
	// graph gets fresh ones.
	if rebuilt.AttachmentHandle(0) == g.AttachmentHandle(0) {
		t.Fatal("rebuilt graph shares attachment handles with the old one")
	}
}
