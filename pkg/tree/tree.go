// Package tree builds and queries node trees.
package tree

import (
	"sort"
	"strings"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

// FindByPath resolves a path in a forest (recursive).
func FindByPath(nodes []*models.TreeNode, path string) *models.TreeNode {
	for _, n := range nodes {
		if n.Path == path {
			return n
		}
		if found := FindByPath(n.Children, path); found != nil {
			return found
		}
	}
	return nil
}

// FindByID finds a node by its ID in a forest (recursive).
func FindByID(nodes []*models.TreeNode, id string) *models.TreeNode {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
		if found := FindByID(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the folder holding the node with id, or nil when the
// node sits at the root or is absent.
func FindParent(nodes []*models.TreeNode, id string) *models.TreeNode {
	for _, n := range nodes {
		for _, c := range n.Children {
			if c.ID == id {
				return n
			}
		}
		if p := FindParent(n.Children, id); p != nil {
			return p
		}
	}
	return nil
}

// Walk visits nodes depth-first, pre-order. Returning false from fn skips
// the node's children.
func Walk(nodes []*models.TreeNode, fn func(n *models.TreeNode, depth int) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []*models.TreeNode, depth int, fn func(*models.TreeNode, int) bool) {
	for _, n := range nodes {
		if fn(n, depth) {
			walk(n.Children, depth+1, fn)
		}
	}
}

// CountNodes counts all nodes in a forest.
func CountNodes(nodes []*models.TreeNode) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountNodes(n.Children)
	}
	return count
}

// Flatten returns all nodes in a flat map keyed by ID.
func Flatten(nodes []*models.TreeNode) map[string]*models.TreeNode {
	result := make(map[string]*models.TreeNode)
	Walk(nodes, func(n *models.TreeNode, _ int) bool {
		result[n.ID] = n
		return true
	})
	return result
}

// SortForDisplay orders every level of the forest: folders before files,
// then case-insensitive name. It must be re-applied after each rebuild.
func SortForDisplay(nodes []*models.TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return Less(nodes[i], nodes[j])
	})
	for _, n := range nodes {
		if len(n.Children) > 0 {
			SortForDisplay(n.Children)
		}
	}
}

// Less is the display order used by SortForDisplay.
func Less(a, b *models.TreeNode) bool {
	if a.Kind != b.Kind {
		return a.Kind == models.KindFolder
	}
	la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if la != lb {
		return la < lb
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.ID < b.ID
}

// ParentPath returns the path of the folder containing path. Root-level
// entries return "/" when the path is absolute and "" otherwise.
func ParentPath(path string) string {
	trimmed := strings.TrimRight(path, models.Separator)
	i := strings.LastIndex(trimmed, models.Separator)
	switch {
	case i < 0:
		return ""
	case i == 0:
		return models.Separator
	}
	return strings.TrimRight(trimmed[:i], models.Separator)
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	switch parentPath {
	case "":
		return name
	case models.Separator:
		return models.Separator + name
	}
	return strings.TrimRight(parentPath, models.Separator) + models.Separator + name
}

// ReplaceLeaf swaps the last segment of path for name.
func ReplaceLeaf(path, name string) string {
	return BuildChildPath(ParentPath(path), name)
}

// SamePath compares two paths ignoring a leading separator and empty
// segments, so "/a/b" and "a//b" match.
func SamePath(a, b string) bool {
	return strings.Join(Segments(a), models.Separator) == strings.Join(Segments(b), models.Separator)
}
