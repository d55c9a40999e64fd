// Package panel is the composition root of the file tree. The Controller
// owns the authoritative flat list and wires user gestures to the
// selection manager, the drag engine, the mutation orchestrator and the
// drive adapter. Remote work runs on goroutines; Wait blocks until all of
// it has settled.
package panel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/dnd"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/drive"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/events"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/inflight"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/mutation"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/selection"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/retry"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// ErrClosed is returned by operations on a closed controller.
var ErrClosed = errors.New("panel: controller closed")

// Keys handled by KeyDown.
const (
	KeyDelete = "Delete"
	KeyF2     = "F2"
	KeyEscape = "Escape"
	KeyEnter  = "Enter"
)

// DriveStatus is the state of the drive section.
type DriveStatus int

const (
	// DriveDisabled means no drive is configured.
	DriveDisabled DriveStatus = iota
	// DriveUnchecked means the feature gate was not consulted yet.
	DriveUnchecked
	// DriveNeedsPermission means the gate refused; no drive call is made.
	DriveNeedsPermission
	// DriveReady means drive listings may be issued.
	DriveReady
)

func (s DriveStatus) String() string {
	switch s {
	case DriveUnchecked:
		return "unchecked"
	case DriveNeedsPermission:
		return "needs_permission"
	case DriveReady:
		return "ready"
	}
	return "disabled"
}

// Alert is a blocking, user-visible write failure.
type Alert struct {
	Op      string
	Message string
	Err     error
	At      time.Time
}

// Config wires a controller.
type Config struct {
	User    string
	Storage backend.FlatStorage
	Creator backend.DocumentCreator
	// Drive and Gate are optional; without Drive the section is disabled.
	Drive  backend.Drive
	Gate   backend.FeatureGate
	Paging drive.Config
	Locate retry.Config
	Events *events.Broadcaster
}

type editor struct {
	id    string
	value string
}

// Controller owns all tree state of one panel.
type Controller struct {
	cfg      Config
	events   *events.Broadcaster
	orch     *mutation.Orchestrator
	drag     *dnd.Engine
	sel      *selection.Manager
	driveSel *selection.Manager
	adapter  *drive.Adapter
	busy     *inflight.Set

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	roots       []*models.TreeNode
	conflicts   []tree.Conflict
	rootPath    string
	flatBanner  string
	driveBanner string
	alerts      []Alert
	edit        *editor
	driveStatus DriveStatus
	closed      bool
}

// New creates a controller. Call Refresh to load the flat tree.
func New(cfg Config) *Controller {
	bc := cfg.Events
	if bc == nil {
		bc = events.NewBroadcaster()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		events:   bc,
		sel:      selection.New(),
		driveSel: selection.New(),
		busy:     inflight.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.orch = mutation.New(mutation.Config{
		User:                cfg.User,
		Locate:              cfg.Locate,
		Busy:                c.busy,
		Events:              bc,
		OnSelectionConsumed: c.sel.ClearMulti,
	}, cfg.Storage, cfg.Creator, c)
	c.drag = dnd.New(cfg.Storage, c.orch, c.Refresh, c.busy)
	if cfg.Drive != nil {
		c.adapter = drive.New(cfg.Drive, cfg.Paging, bc)
		c.driveStatus = DriveUnchecked
	}
	return c
}

// Events returns the broadcaster change notifications are published on.
func (c *Controller) Events() *events.Broadcaster {
	return c.events
}

func (c *Controller) publish(typ, id, msg string) {
	c.events.Publish(events.Event{Type: typ, Source: models.SourceFlat.String(), ID: id, Message: msg})
}

// spawn runs fn on a tracked goroutine and turns its error into an alert.
func (c *Controller) spawn(op string, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := fn(c.ctx); err != nil {
			c.raise(op, err)
		}
	}()
	return nil
}

// raise records a write failure as an alert. Validation errors and drag
// guard rejections revert silently.
func (c *Controller) raise(op string, err error) {
	if mutation.IsValidation(err) ||
		errors.Is(err, dnd.ErrNotDragging) ||
		errors.Is(err, dnd.ErrInvalidTarget) ||
		errors.Is(err, dnd.ErrBusy) ||
		errors.Is(err, mutation.ErrNodeBusy) {
		logging.Debug("gesture rejected", zap.String("op", op), zap.Error(err))
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.alerts = append(c.alerts, Alert{Op: op, Message: err.Error(), Err: err, At: time.Now()})
	c.mu.Unlock()

	logging.Warn("mutation alert", zap.String("op", op), zap.Error(err))
	c.publish(events.EventAlert, "", err.Error())
}

// Refresh re-fetches the flat list and rebuilds the tree. The result of
// whichever refresh resolves last is kept. A read failure sets the flat
// banner and keeps the previous tree.
func (c *Controller) Refresh(ctx context.Context) error {
	start := time.Now()
	res, err := c.cfg.Storage.GetUserFiles(ctx, c.cfg.User)
	if err == nil && !res.Success {
		err = backend.ErrListingFailed
	}
	metrics.RecordRefresh(models.SourceFlat.String(), time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() == nil {
			c.setBanner(models.SourceFlat, "Could not load files: "+err.Error())
		}
		return err
	}

	roots, conflicts := tree.Build(res.Files)
	tree.SortForDisplay(roots)
	for _, cf := range conflicts {
		logging.Warn("file hidden by folder with the same path",
			zap.String("id", cf.Record.ID),
			zap.String("path", cf.FolderPath))
	}
	metrics.RecordConflicts(len(conflicts))

	rootPath := ""
	for _, r := range res.Files {
		if strings.HasPrefix(r.Path, models.Separator) {
			rootPath = models.Separator
			break
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.roots = roots
	c.conflicts = conflicts
	c.rootPath = rootPath
	hadBanner := c.flatBanner != ""
	c.flatBanner = ""
	// Pruned under c.mu so an overlapping refresh cannot prune against a
	// tree that is no longer displayed.
	c.sel.Retain(roots)
	c.drag.SetRootPath(rootPath)
	c.mu.Unlock()

	metrics.SetTreeNodes(models.SourceFlat.String(), tree.CountNodes(roots))
	if hadBanner {
		c.publish(events.EventBanner, "", "")
	}
	c.publish(events.EventRefresh, "", "")
	return nil
}

// Lookup finds a node of the authoritative tree by path.
func (c *Controller) Lookup(path string) *models.TreeNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tree.FindByPath(c.roots, path).Clone()
}

// Tree returns the flat tree as displayed: the authoritative nodes with
// pending placeholders applied, sorted folders first. It never fails.
func (c *Controller) Tree() []*models.TreeNode {
	c.mu.Lock()
	roots := c.roots
	c.mu.Unlock()

	out := mutation.Overlay(roots, c.orch.Pending())
	tree.SortForDisplay(out)
	return out
}

// Conflicts returns the records dropped by the last rebuild because a
// folder claimed their path.
func (c *Controller) Conflicts() []tree.Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tree.Conflict(nil), c.conflicts...)
}

// Selection returns the flat tree selection manager.
func (c *Controller) Selection() *selection.Manager {
	return c.sel
}

func (c *Controller) node(id string) *models.TreeNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tree.FindByID(c.roots, id).Clone()
}

// folderPath resolves the folder new items go into: the root for "", the
// folder itself, or a file's parent.
func (c *Controller) folderPath(id string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		return c.rootPath, nil
	}
	n := tree.FindByID(c.roots, id)
	if n == nil {
		return "", backend.ErrNotFound
	}
	if n.IsFolder() {
		return n.Path, nil
	}
	return tree.ParentPath(n.Path), nil
}

// Click applies a click on node id of the flat tree.
func (c *Controller) Click(id string, shift bool) selection.Action {
	n := tree.FindByID(c.Tree(), id)
	action := c.sel.Click(n, shift)
	if action != selection.ActionNone {
		c.publish(events.EventSelection, id, "")
	}
	return action
}

// BeginRename opens the inline editor on id.
func (c *Controller) BeginRename(id string) error {
	n := c.node(id)
	if n == nil {
		return backend.ErrNotFound
	}
	if n.IsPending() || c.busy.Busy(id) {
		return mutation.ErrNodeBusy
	}
	c.mu.Lock()
	c.edit = &editor{id: id, value: n.Name}
	c.mu.Unlock()
	return nil
}

// SetEditValue updates the text of the open editor.
func (c *Controller) SetEditValue(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit != nil {
		c.edit.value = v
	}
}

// Editing returns the node id and text of the open editor.
func (c *Controller) Editing() (id, value string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return "", "", false
	}
	return c.edit.id, c.edit.value, true
}

// CancelRename closes the editor without a request.
func (c *Controller) CancelRename() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edit = nil
}

// CommitRename closes the editor immediately and renames its node to
// value in the background.
func (c *Controller) CommitRename(value string) error {
	c.mu.Lock()
	ed := c.edit
	c.edit = nil
	c.mu.Unlock()
	if ed == nil {
		return nil
	}
	n := c.node(ed.id)
	if n == nil {
		return backend.ErrNotFound
	}
	return c.spawn(string(mutation.OpRename), func(ctx context.Context) error {
		_, err := c.orch.Rename(ctx, n, value)
		return err
	})
}

// KeyDown handles a key press on the flat tree.
func (c *Controller) KeyDown(key string) error {
	switch key {
	case KeyDelete:
		if _, _, editing := c.Editing(); editing {
			return nil
		}
		return c.DeleteSelected()
	case KeyF2:
		if id := c.sel.Active(); id != "" {
			return c.BeginRename(id)
		}
	case KeyEscape:
		c.CancelRename()
		c.drag.Cancel()
		c.publish(events.EventDrag, "", dnd.Idle.String())
	case KeyEnter:
		if _, value, ok := c.Editing(); ok {
			return c.CommitRename(value)
		}
	}
	return nil
}

// DragStart begins dragging node id.
func (c *Controller) DragStart(id string) error {
	if err := c.drag.DragStart(c.node(id)); err != nil {
		return err
	}
	c.publish(events.EventDrag, id, dnd.Dragging.String())
	return nil
}

// DragOver hovers the drag over folder id ("" for the root) and reports
// whether it accepts the drop.
func (c *Controller) DragOver(id string) bool {
	if id == "" {
		return c.drag.DragOver(nil)
	}
	n := c.node(id)
	if n == nil {
		return false
	}
	return c.drag.DragOver(n)
}

// DragLeave clears the hover on id ("" for the root).
func (c *Controller) DragLeave(id string) {
	if id == "" {
		c.drag.DragLeave(nil)
		return
	}
	c.drag.DragLeave(&models.TreeNode{ID: id})
}

// DragState returns the drag state.
func (c *Controller) DragState() dnd.Snapshot {
	return c.drag.Snapshot()
}

// Drop completes a drag on folder id ("" for the root).
func (c *Controller) Drop(p dnd.Payload, id string) error {
	var target *models.TreeNode
	if id != "" {
		if target = c.node(id); target == nil {
			c.drag.Cancel()
			return backend.ErrNotFound
		}
	}
	return c.spawn("drop", func(ctx context.Context) error {
		_, err := c.drag.Drop(ctx, p, target)
		c.publish(events.EventDrag, "", dnd.Idle.String())
		return err
	})
}

// NewFolder creates folder name inside parentID ("" for the root).
func (c *Controller) NewFolder(parentID, name string) error {
	parent, err := c.folderPath(parentID)
	if err != nil {
		return err
	}
	return c.spawn(string(mutation.OpCreateFolder), func(ctx context.Context) error {
		return c.orch.CreateFolder(ctx, parent, name)
	})
}

// NewFile creates a document of kind inside parentID ("" for the root).
func (c *Controller) NewFile(kind backend.DocKind, parentID, name string) error {
	parent, err := c.folderPath(parentID)
	if err != nil {
		return err
	}
	return c.spawn(string(mutation.OpCreateFile), func(ctx context.Context) error {
		return c.orch.CreateFile(ctx, kind, parent, name)
	})
}

// DeleteSelected deletes the multi-selected files, or the active node when
// nothing is multi-selected.
func (c *Controller) DeleteSelected() error {
	multi := c.sel.Multi()
	if multi.Len() > 0 {
		c.mu.Lock()
		items := selection.CollectSelectedItems(c.roots, multi)
		c.mu.Unlock()
		items = models.CloneAll(items)
		if len(items) == 0 {
			c.sel.ClearMulti()
			return nil
		}
		return c.spawn(string(mutation.OpDeleteMany), func(ctx context.Context) error {
			_, err := c.orch.DeleteMany(ctx, items)
			return err
		})
	}

	n := c.node(c.sel.Active())
	if n == nil {
		return nil
	}
	return c.spawn(string(mutation.OpDelete), func(ctx context.Context) error {
		return c.orch.Delete(ctx, n)
	})
}

// Upload uploads picked files into parentID ("" for the root). A non-empty
// folderName uploads them as one folder.
func (c *Controller) Upload(files []backend.UploadFile, folderName, parentID string) error {
	parent, err := c.folderPath(parentID)
	if err != nil {
		return err
	}
	if folderName != "" {
		return c.spawn(string(mutation.OpUploadFolder), func(ctx context.Context) error {
			return c.orch.UploadFolder(ctx, files, folderName, backend.OriginPicker, parent)
		})
	}
	return c.spawn(string(mutation.OpUpload), func(ctx context.Context) error {
		return c.orch.UploadFiles(ctx, files, backend.OriginPicker, parent)
	})
}

// AwaitCreated waits in the background for a node an outside actor is
// creating at path and makes it active once it shows up.
func (c *Controller) AwaitCreated(path string, kind models.Kind) error {
	return c.spawn(string(mutation.OpLocate), func(ctx context.Context) error {
		n, found, err := c.orch.LocateCreated(ctx, path, kind)
		if err != nil || !found {
			return err
		}
		c.sel.SetActive(n.ID)
		c.publish(events.EventSelection, n.ID, "")
		return nil
	})
}

// Alerts returns the raised alerts, oldest first.
func (c *Controller) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// DismissAlerts clears all alerts.
func (c *Controller) DismissAlerts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = nil
}

func (c *Controller) setBanner(src models.Source, msg string) {
	c.mu.Lock()
	if src == models.SourceDrive {
		c.driveBanner = msg
	} else {
		c.flatBanner = msg
	}
	c.mu.Unlock()
	c.events.Publish(events.Event{Type: events.EventBanner, Source: src.String(), Message: msg})
}

// Banner returns the inline read error of a section, or "".
func (c *Controller) Banner(src models.Source) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src == models.SourceDrive {
		return c.driveBanner
	}
	return c.flatBanner
}

// Wait blocks until all background work has settled.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops accepting gestures, cancels outstanding work and waits for
// it. Results arriving after Close are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
