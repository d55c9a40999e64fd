package tree

import (
	"strings"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

// Conflict reports a file record dropped because a folder claims the same
// path. Folders always win, regardless of record order.
type Conflict struct {
	Record     models.FileRecord
	FolderPath string
}

type fileEntry struct {
	node   *models.TreeNode
	parent *models.TreeNode
	record models.FileRecord
}

type builder struct {
	roots     []*models.TreeNode
	folders   map[string]*models.TreeNode
	files     map[string][]fileEntry
	conflicts []Conflict
}

// Build folds a flat list of path-addressed records into a forest. Records
// sharing a path prefix share the synthetic folder nodes for that prefix.
// Children keep insertion order; sorting is a display concern (see
// SortForDisplay). Build never fails: malformed paths degrade to the best
// location the remaining segments allow.
func Build(records []models.FileRecord) ([]*models.TreeNode, []Conflict) {
	b := &builder{
		roots:   []*models.TreeNode{},
		folders: make(map[string]*models.TreeNode),
		files:   make(map[string][]fileEntry),
	}
	for _, r := range records {
		b.add(r)
	}
	return b.roots, b.conflicts
}

func (b *builder) add(r models.FileRecord) {
	segs := Segments(r.Path)
	if len(segs) == 0 {
		segs = Segments(r.Name)
	}
	if len(segs) == 0 && r.ID != "" {
		segs = []string{r.ID}
	}
	if len(segs) == 0 {
		return
	}

	lead := ""
	if strings.HasPrefix(r.Path, models.Separator) {
		lead = models.Separator
	}

	chain := segs[:len(segs)-1]
	if r.Folder {
		chain = segs
	}

	var parent *models.TreeNode
	for i := range chain {
		parent = b.folder(strings.Join(segs[:i+1], models.Separator), segs[i], lead, parent)
	}
	if r.Folder {
		parent.Payload = models.FlatFolder{Marker: true}
		if !r.ModifiedAt.IsZero() {
			parent.ModifiedAt = r.ModifiedAt
		}
		return
	}

	key := strings.Join(segs, models.Separator)
	if folder, ok := b.folders[key]; ok {
		b.conflicts = append(b.conflicts, Conflict{Record: r, FolderPath: folder.Path})
		return
	}

	path := r.Path
	if path == "" {
		path = segs[len(segs)-1]
	}
	node := &models.TreeNode{
		ID:         r.ID,
		Name:       segs[len(segs)-1],
		Kind:       models.KindFile,
		Path:       path,
		Size:       r.Size,
		ModifiedAt: r.ModifiedAt,
		RemoteRef:  r.RemoteRef,
		Source:     models.SourceFlat,
		Payload:    models.FlatFile{URL: r.URL},
	}
	if node.ID == "" {
		node.ID = path
	}
	b.attach(parent, node)
	b.files[key] = append(b.files[key], fileEntry{node: node, parent: parent, record: r})
}

// folder returns the folder for key, creating it under parent if needed.
// Files already occupying key are evicted and reported.
func (b *builder) folder(key, name, lead string, parent *models.TreeNode) *models.TreeNode {
	if f, ok := b.folders[key]; ok {
		return f
	}
	f := &models.TreeNode{
		ID:       lead + key,
		Name:     name,
		Kind:     models.KindFolder,
		Path:     lead + key,
		Source:   models.SourceFlat,
		Children: []*models.TreeNode{},
		Payload:  models.FlatFolder{},
	}
	if evicted, ok := b.files[key]; ok {
		for _, e := range evicted {
			b.detach(e.parent, e.node)
			b.conflicts = append(b.conflicts, Conflict{Record: e.record, FolderPath: f.Path})
		}
		delete(b.files, key)
	}
	b.folders[key] = f
	b.attach(parent, f)
	return f
}

func (b *builder) attach(parent, node *models.TreeNode) {
	if parent == nil {
		b.roots = append(b.roots, node)
		return
	}
	parent.Children = append(parent.Children, node)
}

func (b *builder) detach(parent, node *models.TreeNode) {
	if parent == nil {
		b.roots = removeNode(b.roots, node)
		return
	}
	parent.Children = removeNode(parent.Children, node)
}

func removeNode(nodes []*models.TreeNode, target *models.TreeNode) []*models.TreeNode {
	for i, n := range nodes {
		if n == target {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}

// Segments splits path on the separator, dropping empty segments.
func Segments(path string) []string {
	parts := strings.Split(path, models.Separator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
