// Package selection tracks expanded folders, the active node and the
// multi-selection of one tree source. It works on node ids only, so the
// same manager type serves the flat tree and the drive tree; each source
// gets its own manager because ids are not disjoint across sources.
package selection

import (
	"sync"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// Action is what a click resolved to.
type Action int

const (
	ActionNone Action = iota
	// ActionOpen opened a file as the active node.
	ActionOpen
	// ActionToggle expanded or collapsed a folder.
	ActionToggle
	// ActionSelect changed the multi-selection only.
	ActionSelect
)

// Manager holds selection state for one source.
type Manager struct {
	mu       sync.Mutex
	expanded models.IDSet
	active   string
	multi    models.IDSet
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{
		expanded: models.NewIDSet(),
		multi:    models.NewIDSet(),
	}
}

// ToggleExpanded flips membership of id in the expanded set and reports
// the new state.
func (m *Manager) ToggleExpanded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expanded.Has(id) {
		m.expanded.Remove(id)
		return false
	}
	m.expanded.Add(id)
	return true
}

// SetExpanded forces the expansion state of id.
func (m *Manager) SetExpanded(id string, expanded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expanded {
		m.expanded.Add(id)
	} else {
		m.expanded.Remove(id)
	}
}

// IsExpanded reports whether id is expanded.
func (m *Manager) IsExpanded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded.Has(id)
}

// Expanded returns a copy of the expanded set.
func (m *Manager) Expanded() models.IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expanded.Clone()
}

// SetActive replaces the active node id. An empty id clears it.
func (m *Manager) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = id
}

// Active returns the active node id, or "".
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Multi returns a copy of the multi-selection.
func (m *Manager) Multi() models.IDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.multi.Clone()
}

// ClearMulti empties the multi-selection.
func (m *Manager) ClearMulti() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multi = models.NewIDSet()
}

// ShiftToggle returns the multi-selection after clicking id. Without shift
// the result is {id}; with shift, id's membership is toggled and every
// other member is kept. set is not modified.
func ShiftToggle(set models.IDSet, id string, shift bool) models.IDSet {
	if !shift {
		return models.NewIDSet(id)
	}
	out := set.Clone()
	if out.Has(id) {
		out.Remove(id)
	} else {
		out.Add(id)
	}
	return out
}

// CollectSelectedItems walks nodes depth-first and returns every file whose
// id is in ids. Folders are never collected.
func CollectSelectedItems(nodes []*models.TreeNode, ids models.IDSet) []*models.TreeNode {
	var out []*models.TreeNode
	if ids.Len() == 0 {
		return out
	}
	tree.Walk(nodes, func(n *models.TreeNode, _ int) bool {
		if !n.IsFolder() && ids.Has(n.ID) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Click applies a click on n. A plain click on a file opens it and resets
// the multi-selection to that file; a shift click toggles the file in the
// multi-selection. A click on a folder toggles its expansion; a plain one
// also clears the multi-selection. Pending placeholders ignore clicks.
func (m *Manager) Click(n *models.TreeNode, shift bool) Action {
	if n == nil || n.IsPending() {
		return ActionNone
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.IsFolder() {
		if m.expanded.Has(n.ID) {
			m.expanded.Remove(n.ID)
		} else {
			m.expanded.Add(n.ID)
		}
		if !shift {
			m.multi = models.NewIDSet()
			m.active = n.ID
		}
		return ActionToggle
	}

	m.multi = ShiftToggle(m.multi, n.ID, shift)
	if shift {
		return ActionSelect
	}
	m.active = n.ID
	return ActionOpen
}

// Retain drops active and multi-selected ids that no longer exist in
// nodes. Expanded ids are kept so a folder that reappears under the same
// id stays open across rebuilds.
func (m *Manager) Retain(nodes []*models.TreeNode) {
	present := tree.Flatten(nodes)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := present[m.active]; !ok {
		m.active = ""
	}
	for id := range m.multi {
		if _, ok := present[id]; !ok {
			m.multi.Remove(id)
		}
	}
}
