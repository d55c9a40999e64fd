package memory

import (
	"context"
	"sync"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// Gate is a backend.FeatureGate that counts consultations.
type Gate struct {
	mu       sync.Mutex
	features map[string]bool
	checks   int
}

// NewGate enables the given features.
func NewGate(features ...string) *Gate {
	g := &Gate{features: make(map[string]bool)}
	for _, f := range features {
		g.features[f] = true
	}
	return g
}

// Set toggles a feature.
func (g *Gate) Set(feature string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.features[feature] = on
}

// Checks returns how often the gate was consulted.
func (g *Gate) Checks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checks
}

// IsFeatureAvailable implements backend.FeatureGate.
func (g *Gate) IsFeatureAvailable(_ context.Context, feature string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	return g.features[feature]
}

// Creator is a backend.DocumentCreator writing empty documents into a
// Storage.
type Creator struct {
	Storage *Storage

	mu    sync.Mutex
	kinds []backend.DocKind
	err   error
}

// NewCreator returns a creator backed by s.
func NewCreator(s *Storage) *Creator {
	return &Creator{Storage: s}
}

// SetError makes every creation fail with err.
func (c *Creator) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Kinds returns the kinds created so far.
func (c *Creator) Kinds() []backend.DocKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.DocKind(nil), c.kinds...)
}

// CreateDocument implements backend.DocumentCreator.
func (c *Creator) CreateDocument(ctx context.Context, kind backend.DocKind, parentPath, name string) error {
	c.mu.Lock()
	c.kinds = append(c.kinds, kind)
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Storage.WriteFile(ctx, tree.BuildChildPath(parentPath, name), nil)
}
