package tree

import (
	"testing"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

func sampleForest() []*models.TreeNode {
	return []*models.TreeNode{
		{ID: "id-a", Path: "/a.txt", Name: "a.txt"},
		{ID: "/dir", Path: "/dir", Name: "dir", Kind: models.KindFolder, Children: []*models.TreeNode{
			{ID: "id-b", Path: "/dir/b.txt", Name: "b.txt"},
		}},
	}
}

func TestFindByPath(t *testing.T) {
	forest := sampleForest()
	tests := []struct {
		path  string
		found bool
	}{
		{"/a.txt", true},
		{"/dir", true},
		{"/dir/b.txt", true},
		{"/nonexistent", false},
	}

	for _, tt := range tests {
		node := FindByPath(forest, tt.path)
		if (node != nil) != tt.found {
			t.Errorf("FindByPath(%q) found=%v, want %v", tt.path, node != nil, tt.found)
		}
		if node != nil && node.Path != tt.path {
			t.Errorf("FindByPath(%q).Path = %q", tt.path, node.Path)
		}
	}

	if FindByPath(nil, "/") != nil {
		t.Error("FindByPath(nil, /) should return nil")
	}
}

func TestFindByIDAndParent(t *testing.T) {
	forest := sampleForest()
	if node := FindByID(forest, "id-b"); node == nil || node.Path != "/dir/b.txt" {
		t.Errorf("FindByID(id-b) failed")
	}
	if FindByID(forest, "nonexistent") != nil {
		t.Errorf("FindByID(nonexistent) should return nil")
	}
	if p := FindParent(forest, "id-b"); p == nil || p.ID != "/dir" {
		t.Errorf("FindParent(id-b) = %v, want /dir", p)
	}
	if FindParent(forest, "id-a") != nil {
		t.Error("root-level node should have no parent")
	}
}

func TestCountAndFlatten(t *testing.T) {
	forest := sampleForest()
	if n := CountNodes(forest); n != 3 {
		t.Errorf("CountNodes = %d, want 3", n)
	}
	flat := Flatten(forest)
	if len(flat) != 3 || flat["id-b"] == nil {
		t.Errorf("Flatten returned %v", flat)
	}
}

func TestSortForDisplay(t *testing.T) {
	nodes := []*models.TreeNode{
		{ID: "1", Name: "beta.txt"},
		{ID: "2", Name: "Alpha.txt"},
		{ID: "3", Name: "zed", Kind: models.KindFolder, Children: []*models.TreeNode{
			{ID: "4", Name: "b"},
			{ID: "5", Name: "A"},
		}},
		{ID: "6", Name: "Docs", Kind: models.KindFolder},
	}
	SortForDisplay(nodes)
	got := []string{nodes[0].Name, nodes[1].Name, nodes[2].Name, nodes[3].Name}
	want := []string{"Docs", "zed", "Alpha.txt", "beta.txt"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if nodes[1].Children[0].Name != "A" {
		t.Errorf("children should be sorted too, got %s first", nodes[1].Children[0].Name)
	}
}

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		path, parent string
	}{
		{"/a/X.txt", "/a"},
		{"/X.txt", "/"},
		{"notes.txt", ""},
		{"a/b/c", "a/b"},
		{"a/b/", "a"},
	}
	for _, tt := range tests {
		if got := ParentPath(tt.path); got != tt.parent {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.path, got, tt.parent)
		}
	}

	if got := BuildChildPath("/b", "X.txt"); got != "/b/X.txt" {
		t.Errorf("BuildChildPath = %q", got)
	}
	if got := BuildChildPath("/", "X.txt"); got != "/X.txt" {
		t.Errorf("BuildChildPath(root) = %q", got)
	}
	if got := BuildChildPath("", "X.txt"); got != "X.txt" {
		t.Errorf("BuildChildPath(empty) = %q", got)
	}
	if got := ReplaceLeaf("/docs/report.docx", "Q1 Report.docx"); got != "/docs/Q1 Report.docx" {
		t.Errorf("ReplaceLeaf = %q", got)
	}
	if !SamePath("/a//b", "a/b") {
		t.Error("SamePath should ignore empty segments")
	}
}
