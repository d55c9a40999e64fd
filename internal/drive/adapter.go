// Package drive adapts a paginated, parent-linked drive API into tree nodes.
// The root is listed page by page; folder children are fetched on first
// expansion and cached per folder id. The full tree is never pre-built.
package drive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/events"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

var (
	// ErrFetchInFlight is returned by LoadMore while a page fetch is outstanding.
	ErrFetchInFlight = errors.New("drive: page fetch in flight")

	// ErrStale is returned when a response arrived for a listing that was
	// reset or refreshed while it was in flight. The result is discarded.
	ErrStale = errors.New("drive: stale response")
)

// FolderState is the expansion state of one drive folder.
type FolderState int

const (
	Collapsed FolderState = iota
	Loading
	Expanded
)

func (s FolderState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Expanded:
		return "expanded"
	}
	return "collapsed"
}

// Config tunes paging.
type Config struct {
	PageSize int
	// ScrollThreshold is the remaining distance (in pixels) from the bottom
	// of the root list at which the next page is requested.
	ScrollThreshold float64
}

// Adapter owns the drive children cache and the root listing.
type Adapter struct {
	api    backend.Drive
	cfg    Config
	events *events.Broadcaster
	group  singleflight.Group

	mu          sync.Mutex
	root        []*models.TreeNode
	rootLoaded  bool
	nextToken   string
	rootGen     uint64
	pageLoading bool
	children    map[string][]*models.TreeNode
	gens        map[string]uint64
	cachedGen   map[string]uint64
	loading     map[string]int
	expanded    models.IDSet
}

// New creates an adapter. bc may be nil.
func New(api backend.Drive, cfg Config, bc *events.Broadcaster) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.ScrollThreshold <= 0 {
		cfg.ScrollThreshold = 200
	}
	return &Adapter{
		api:       api,
		cfg:       cfg,
		events:    bc,
		children:  make(map[string][]*models.TreeNode),
		gens:      make(map[string]uint64),
		cachedGen: make(map[string]uint64),
		loading:   make(map[string]int),
		expanded:  models.NewIDSet(),
	}
}

func (a *Adapter) publish(typ, id string) {
	if a.events == nil {
		return
	}
	a.events.Publish(events.Event{Type: typ, Source: models.SourceDrive.String(), ID: id})
}

// NodeFromItem converts one drive item to a tree node. Folders start
// unloaded.
func NodeFromItem(it backend.DriveItem) *models.TreeNode {
	parent := ""
	if len(it.Parents) > 0 {
		parent = it.Parents[0]
	}
	n := &models.TreeNode{
		ID:         it.ID,
		Name:       it.Name,
		Kind:       models.KindFile,
		Path:       models.DriveLocator(it.ID),
		Size:       it.Size,
		ModifiedAt: it.ModifiedTime,
		RemoteRef:  it.ID,
		Status:     models.StatusReady,
		Source:     models.SourceDrive,
	}
	if it.MimeType == models.DriveFolderMimeType {
		n.Kind = models.KindFolder
		n.Unloaded = true
		n.Payload = models.DriveFolder{ParentID: parent}
	} else {
		n.Payload = models.DriveFile{MimeType: it.MimeType, WebViewLink: it.WebViewLink, ParentID: parent}
	}
	return n
}

func nodesFromItems(items []backend.DriveItem) []*models.TreeNode {
	out := make([]*models.TreeNode, 0, len(items))
	for _, it := range items {
		out = append(out, NodeFromItem(it))
	}
	return out
}

// ListRoot fetches one page of the root listing. An empty pageToken resets
// the root listing to this page; a non-empty token appends. It returns the
// nodes of the fetched page and the next page token.
func (a *Adapter) ListRoot(ctx context.Context, pageSize int, pageToken string) ([]*models.TreeNode, string, error) {
	if pageSize <= 0 {
		pageSize = a.cfg.PageSize
	}

	a.mu.Lock()
	if pageToken == "" {
		a.rootGen++
	}
	gen := a.rootGen
	a.mu.Unlock()

	start := time.Now()
	page, err := a.api.ListRootFiles(ctx, pageSize, pageToken)
	metrics.RecordRefresh(models.SourceDrive.String(), time.Since(start), err == nil)
	if err != nil {
		logging.Warn("drive root listing failed", zap.String("page_token", pageToken), zap.Error(err))
		return nil, "", fmt.Errorf("list drive root: %w", err)
	}
	nodes := nodesFromItems(page.Files)

	a.mu.Lock()
	if gen != a.rootGen {
		a.mu.Unlock()
		return nil, "", ErrStale
	}
	if pageToken == "" {
		a.root = nodes
	} else {
		a.root = append(a.root, nodes...)
	}
	a.rootLoaded = true
	a.nextToken = page.NextPageToken
	total := len(a.root)
	a.mu.Unlock()

	metrics.SetTreeNodes(models.SourceDrive.String(), total)
	a.publish(events.EventDrivePage, "")
	return models.CloneAll(nodes), page.NextPageToken, nil
}

// LoadMore fetches the next root page using the stored token. It returns
// the number of nodes appended, zero when there are no more pages, and
// ErrFetchInFlight if another page fetch is outstanding.
func (a *Adapter) LoadMore(ctx context.Context) (int, error) {
	a.mu.Lock()
	if a.pageLoading {
		a.mu.Unlock()
		return 0, ErrFetchInFlight
	}
	if a.rootLoaded && a.nextToken == "" {
		a.mu.Unlock()
		return 0, nil
	}
	a.pageLoading = true
	token := a.nextToken
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pageLoading = false
		a.mu.Unlock()
	}()

	nodes, _, err := a.ListRoot(ctx, a.cfg.PageSize, token)
	if errors.Is(err, ErrStale) {
		// The root was reset while the page was in flight.
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// OnScroll loads the next root page when the remaining distance to the
// bottom is within the threshold. Triggers are suppressed while a page is
// loading or when no further page exists. It reports whether a page was
// requested.
func (a *Adapter) OnScroll(ctx context.Context, scrollTop, viewportHeight, contentHeight float64) (bool, error) {
	if contentHeight-scrollTop-viewportHeight > a.cfg.ScrollThreshold {
		return false, nil
	}
	if !a.HasMore() {
		return false, nil
	}
	_, err := a.LoadMore(ctx)
	if errors.Is(err, ErrFetchInFlight) {
		return false, nil
	}
	return true, err
}

// RootLoaded reports whether a root page has been stored.
func (a *Adapter) RootLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rootLoaded
}

// HasMore reports whether another root page can be requested.
func (a *Adapter) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rootLoaded && a.nextToken != "" && !a.pageLoading
}

// ListChildren returns the children of folderID, fetching them on the first
// call. Later calls are cache hits. Concurrent calls for the same folder
// share one request.
func (a *Adapter) ListChildren(ctx context.Context, folderID string) ([]*models.TreeNode, error) {
	a.mu.Lock()
	if cached, ok := a.children[folderID]; ok {
		a.mu.Unlock()
		return models.CloneAll(cached), nil
	}
	gen := a.gens[folderID]
	a.mu.Unlock()

	return a.fetchChildren(ctx, folderID, gen)
}

func (a *Adapter) fetchChildren(ctx context.Context, folderID string, gen uint64) ([]*models.TreeNode, error) {
	key := fmt.Sprintf("%s@%d", folderID, gen)
	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		a.mu.Lock()
		if cached, ok := a.children[folderID]; ok && a.cachedGen[folderID] == gen {
			a.mu.Unlock()
			return cached, nil
		}
		a.loading[folderID]++
		a.mu.Unlock()

		items, err := a.api.ListFilesInFolder(ctx, folderID)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.loading[folderID]--; a.loading[folderID] <= 0 {
			delete(a.loading, folderID)
		}
		if err != nil {
			logging.Warn("drive folder listing failed", zap.String("id", folderID), zap.Error(err))
			return nil, fmt.Errorf("list drive folder %s: %w", folderID, err)
		}
		if a.gens[folderID] != gen {
			return nil, ErrStale
		}
		nodes := nodesFromItems(items)
		a.children[folderID] = nodes
		a.cachedGen[folderID] = gen
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	a.publish(events.EventDriveFolder, folderID)
	return models.CloneAll(v.([]*models.TreeNode)), nil
}

// Expand marks folderID expanded and loads its children if they are not
// cached. A response superseded by a refresh is dropped and the folder
// stays expanded. On error the folder returns to Collapsed, unless another
// fetch of it is still in flight, and the cache stays empty so the next
// Expand retries.
func (a *Adapter) Expand(ctx context.Context, folderID string) error {
	a.mu.Lock()
	a.expanded.Add(folderID)
	_, cached := a.children[folderID]
	a.mu.Unlock()
	if cached {
		return nil
	}

	_, err := a.ListChildren(ctx, folderID)
	if errors.Is(err, ErrStale) {
		return nil
	}
	if err != nil {
		a.mu.Lock()
		_, ok := a.children[folderID]
		if !ok && a.loading[folderID] == 0 {
			a.expanded.Remove(folderID)
		}
		a.mu.Unlock()
		return err
	}
	return nil
}

// Collapse unmarks folderID. Cached children are retained.
func (a *Adapter) Collapse(folderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expanded.Remove(folderID)
}

// Toggle expands a collapsed folder and collapses an expanded one.
func (a *Adapter) Toggle(ctx context.Context, folderID string) error {
	if a.FolderState(folderID) == Collapsed {
		return a.Expand(ctx, folderID)
	}
	a.Collapse(folderID)
	return nil
}

// Refresh refetches one folder's children and replaces only that cache
// entry. An empty folderID resets the root listing instead. Responses of
// fetches started before the refresh are discarded, and a refresh
// overtaken by a later one returns nil.
func (a *Adapter) Refresh(ctx context.Context, folderID string) error {
	var err error
	if folderID == "" {
		_, _, err = a.ListRoot(ctx, a.cfg.PageSize, "")
	} else {
		a.mu.Lock()
		a.gens[folderID]++
		gen := a.gens[folderID]
		a.mu.Unlock()
		_, err = a.fetchChildren(ctx, folderID, gen)
	}
	if errors.Is(err, ErrStale) {
		return nil
	}
	return err
}

// FolderState reports the expansion state of folderID.
func (a *Adapter) FolderState(folderID string) FolderState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.expanded.Has(folderID) {
		return Collapsed
	}
	if a.loading[folderID] > 0 {
		return Loading
	}
	if _, ok := a.children[folderID]; ok {
		return Expanded
	}
	return Loading
}

// Expanded returns a copy of the expanded folder ids.
func (a *Adapter) Expanded() models.IDSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expanded.Clone()
}

// Loaded reports whether the children of folderID are cached.
func (a *Adapter) Loaded(folderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.children[folderID]
	return ok
}

// Tree returns a display-sorted copy of the root listing with every cached
// folder's children attached. Folders without a cache entry are marked
// unloaded.
func (a *Adapter) Tree() []*models.TreeNode {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.attach(a.root, models.NewIDSet())
	tree.SortForDisplay(out)
	return out
}

func (a *Adapter) attach(nodes []*models.TreeNode, ancestors models.IDSet) []*models.TreeNode {
	out := make([]*models.TreeNode, 0, len(nodes))
	for _, n := range nodes {
		c := n.Clone()
		if c.IsFolder() {
			cached, ok := a.children[c.ID]
			if ok && !ancestors.Has(c.ID) {
				ancestors.Add(c.ID)
				c.Children = a.attach(cached, ancestors)
				ancestors.Remove(c.ID)
				c.Unloaded = false
			} else {
				c.Children = nil
				c.Unloaded = true
			}
		}
		out = append(out, c)
	}
	return out
}

// Lookup finds a node by id in the root listing or any cached folder.
func (a *Adapter) Lookup(id string) *models.TreeNode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := tree.FindByID(a.root, id); n != nil {
		return n.Clone()
	}
	for _, children := range a.children {
		for _, n := range children {
			if n.ID == id {
				return n.Clone()
			}
		}
	}
	return nil
}
