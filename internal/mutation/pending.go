package mutation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/events"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// Op names a mutation.
type Op string

const (
	OpCreateFolder Op = "create_folder"
	OpCreateFile   Op = "create_file"
	OpRename       Op = "rename"
	OpDelete       Op = "delete"
	OpDeleteMany   Op = "delete_many"
	OpUpload       Op = "upload"
	OpUploadFolder Op = "upload_folder"
	OpLocate       Op = "locate"
)

// Placeholder is an optimistic node shown while a mutation is in flight.
// Creates and uploads add a new node under ParentPath. Renames and deletes
// set TargetID to the existing node they overlay.
type Placeholder struct {
	ID         string
	Op         Op
	Kind       models.Kind
	Name       string
	ParentPath string
	TargetID   string
	CreatedAt  time.Time
}

// Path is the optimistic path of the placeholder.
func (p Placeholder) Path() string {
	return tree.BuildChildPath(p.ParentPath, p.Name)
}

// Node renders the placeholder as a pending tree node.
func (p Placeholder) Node() *models.TreeNode {
	n := &models.TreeNode{
		ID:         p.ID,
		Name:       p.Name,
		Kind:       p.Kind,
		Path:       p.Path(),
		ModifiedAt: p.CreatedAt,
		Status:     models.StatusPending,
		Source:     models.SourceFlat,
	}
	if p.Kind == models.KindFolder {
		n.Children = []*models.TreeNode{}
	}
	return n
}

// pendingStore holds the placeholders of in-flight mutations.
type pendingStore struct {
	events *events.Broadcaster

	mu    sync.Mutex
	items map[string]Placeholder
}

func newPendingStore(bc *events.Broadcaster) *pendingStore {
	return &pendingStore{events: bc, items: make(map[string]Placeholder)}
}

func (s *pendingStore) add(p Placeholder) Placeholder {
	p.ID = "pending-" + uuid.NewString()
	p.CreatedAt = time.Now()

	s.mu.Lock()
	s.items[p.ID] = p
	n := len(s.items)
	s.mu.Unlock()

	metrics.SetPendingPlaceholders(n)
	s.publish(events.EventPending, p)
	return p
}

func (s *pendingStore) remove(p Placeholder) {
	s.mu.Lock()
	_, ok := s.items[p.ID]
	delete(s.items, p.ID)
	n := len(s.items)
	s.mu.Unlock()

	if !ok {
		return
	}
	metrics.SetPendingPlaceholders(n)
	s.publish(events.EventResolved, p)
}

func (s *pendingStore) list() []Placeholder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Placeholder, 0, len(s.items))
	for _, p := range s.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *pendingStore) publish(typ string, p Placeholder) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Type:    typ,
		Source:  models.SourceFlat.String(),
		ID:      p.ID,
		Path:    p.Path(),
		Message: string(p.Op),
	})
}

// Overlay returns a copy of nodes with placeholders applied: new nodes are
// inserted under their parent folder (or at the root when the parent is
// not in the tree) and existing nodes targeted by a rename or delete are
// marked pending, renames showing the new name and path.
func Overlay(nodes []*models.TreeNode, pending []Placeholder) []*models.TreeNode {
	out := models.CloneAll(nodes)
	for _, p := range pending {
		if p.TargetID != "" {
			if n := tree.FindByID(out, p.TargetID); n != nil {
				n.Status = models.StatusPending
				if p.Op == OpRename {
					n.Name = p.Name
					n.Path = p.Path()
				}
			}
			continue
		}
		node := p.Node()
		if parent := tree.FindByPath(out, p.ParentPath); parent != nil && parent.IsFolder() && p.ParentPath != "" {
			parent.Children = append(parent.Children, node)
			continue
		}
		out = append(out, node)
	}
	return out
}
