// Package mutation issues create, rename, delete and upload requests
// against the flat storage with optimistic placeholders.
//
// Every operation follows the same pattern: validate locally, add a pending
// placeholder, call the backend, re-fetch the authoritative list and then
// drop the placeholder whatever the outcome. A placeholder therefore never
// outlives its operation.
package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/events"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/inflight"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/retry"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// errNotVisible marks a locate attempt that did not find the node yet.
var errNotVisible = errors.New("node not visible yet")

// Tree is the authoritative list the orchestrator reconciles against.
type Tree interface {
	Refresh(ctx context.Context) error
	Lookup(path string) *models.TreeNode
}

// Config holds orchestrator settings.
type Config struct {
	// User is passed to folder-level storage calls.
	User string
	// Locate is the retry policy of LocateCreated.
	Locate retry.Config
	// Busy is shared with other mutating components. Optional.
	Busy *inflight.Set
	// Events receives pending/resolved notifications. Optional.
	Events *events.Broadcaster
	// OnSelectionConsumed runs after a bulk delete settles. Optional.
	OnSelectionConsumed func()
}

// Summary counts the outcome of a fan-out operation.
type Summary struct {
	Succeeded int
	Failed    int
}

// Orchestrator runs mutations against one flat storage.
type Orchestrator struct {
	storage backend.FlatStorage
	creator backend.DocumentCreator
	tree    Tree
	cfg     Config
	busy    *inflight.Set
	pending *pendingStore
}

// New creates an orchestrator. creator may be nil.
func New(cfg Config, storage backend.FlatStorage, creator backend.DocumentCreator, tr Tree) *Orchestrator {
	if cfg.Locate.MaxAttempts == 0 {
		cfg.Locate = retry.Fixed(500*time.Millisecond, 8)
	}
	busy := cfg.Busy
	if busy == nil {
		busy = inflight.New()
	}
	return &Orchestrator{
		storage: storage,
		creator: creator,
		tree:    tr,
		cfg:     cfg,
		busy:    busy,
		pending: newPendingStore(cfg.Events),
	}
}

// Pending returns the current placeholders, oldest first.
func (o *Orchestrator) Pending() []Placeholder {
	return o.pending.list()
}

// Busy reports whether id has a mutation in flight.
func (o *Orchestrator) Busy(id string) bool {
	return o.busy.Busy(id)
}

// settle re-fetches the authoritative list and then drops the
// placeholders, win or lose.
func (o *Orchestrator) settle(ctx context.Context, phs ...Placeholder) {
	if err := o.tree.Refresh(ctx); err != nil {
		logging.WithContext(ctx).Warn("refresh after mutation failed", zap.Error(err))
	}
	for _, p := range phs {
		o.pending.remove(p)
	}
}

// run performs call as op and records its outcome.
func (o *Orchestrator) run(ctx context.Context, op Op, call func(context.Context) error) error {
	start := time.Now()
	err := call(ctx)
	metrics.RecordMutation(string(op), time.Since(start), err == nil)
	if err != nil {
		logging.WithContext(ctx).Error("mutation failed", zap.Error(err))
	} else {
		logging.WithContext(ctx).Info("mutation applied", zap.Duration("duration", time.Since(start)))
	}
	return err
}

func validateName(name string, op Op) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		metrics.RecordMutationSkipped(string(op))
		return "", ErrEmptyName
	}
	return name, nil
}

// CreateFolder creates folder name under parentPath.
func (o *Orchestrator) CreateFolder(ctx context.Context, parentPath, name string) error {
	name, err := validateName(name, OpCreateFolder)
	if err != nil {
		return err
	}
	ctx = logging.WithOperation(ctx, string(OpCreateFolder))
	ph := o.pending.add(Placeholder{Op: OpCreateFolder, Kind: models.KindFolder, Name: name, ParentPath: parentPath})
	defer o.settle(ctx, ph)

	return o.run(ctx, OpCreateFolder, func(ctx context.Context) error {
		return o.storage.CreateFolder(ctx, parentPath, name)
	})
}

// DocumentName appends kind's default extension unless name already
// carries it.
func DocumentName(kind backend.DocKind, name string) string {
	ext := kind.Extension()
	if ext == "" || strings.EqualFold(models.Ext(name), ext) {
		return name
	}
	return name + ext
}

// CreateFile asks the document creator for a new document of kind.
func (o *Orchestrator) CreateFile(ctx context.Context, kind backend.DocKind, parentPath, name string) error {
	name, err := validateName(name, OpCreateFile)
	if err != nil {
		return err
	}
	if o.creator == nil {
		return ErrNoCreator
	}
	name = DocumentName(kind, name)
	ctx = logging.WithOperation(ctx, string(OpCreateFile))
	ph := o.pending.add(Placeholder{Op: OpCreateFile, Kind: models.KindFile, Name: name, ParentPath: parentPath})
	defer o.settle(ctx, ph)

	return o.run(ctx, OpCreateFile, func(ctx context.Context) error {
		return o.creator.CreateDocument(ctx, kind, parentPath, name)
	})
}

// RenameTarget computes the backend name for renaming n to input. Files
// keep their original extension: an extension typed by the user is
// replaced with it. A trailing part containing a space is not treated as
// an extension.
func RenameTarget(n *models.TreeNode, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyName
	}
	name := input
	if !n.IsFolder() {
		if orig := n.Ext(); orig != "" {
			if typed := models.Ext(input); typed != "" && !strings.Contains(typed, " ") {
				name = strings.TrimSpace(strings.TrimSuffix(input, typed))
			}
			if name == "" {
				return "", ErrEmptyName
			}
			name += orig
		}
	}
	if name == n.Name {
		return "", ErrNoChange
	}
	return name, nil
}

// Rename renames n. It returns the name sent to the backend.
func (o *Orchestrator) Rename(ctx context.Context, n *models.TreeNode, input string) (string, error) {
	name, err := RenameTarget(n, input)
	if err != nil {
		metrics.RecordMutationSkipped(string(OpRename))
		return "", err
	}
	if n.IsPending() || (!n.IsFolder() && n.RemoteRef == "") {
		return "", ErrNotMutable
	}
	if !o.busy.TryAcquire(n.ID) {
		return "", ErrNodeBusy
	}
	defer o.busy.Release(n.ID)

	ctx = logging.WithOperation(ctx, string(OpRename))
	ph := o.pending.add(Placeholder{
		Op:         OpRename,
		Kind:       n.Kind,
		Name:       name,
		ParentPath: tree.ParentPath(n.Path),
		TargetID:   n.ID,
	})
	defer o.settle(ctx, ph)

	err = o.run(ctx, OpRename, func(ctx context.Context) error {
		if n.IsFolder() {
			_, err := o.storage.RenameFolder(ctx, n.Path, name, o.cfg.User)
			return err
		}
		return o.storage.RenameFile(ctx, n.RemoteRef, name, n.Path)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func (o *Orchestrator) deleteOne(ctx context.Context, n *models.TreeNode) error {
	if n.IsFolder() {
		res, err := o.storage.DeleteFolder(ctx, n.Path, o.cfg.User)
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return &backend.FolderDeleteError{Path: n.Path, Deleted: res.Deleted, Failed: res.Failed}
		}
		return nil
	}
	return o.storage.DeleteFile(ctx, n.RemoteRef)
}

// Delete removes n. Folders are deleted recursively; a partial folder
// delete is reported as *backend.FolderDeleteError.
func (o *Orchestrator) Delete(ctx context.Context, n *models.TreeNode) error {
	if n.IsPending() || (!n.IsFolder() && n.RemoteRef == "") {
		return ErrNotMutable
	}
	if !o.busy.TryAcquire(n.ID) {
		return ErrNodeBusy
	}
	defer o.busy.Release(n.ID)

	ctx = logging.WithOperation(ctx, string(OpDelete))
	ph := o.pending.add(Placeholder{Op: OpDelete, Kind: n.Kind, Name: n.Name, ParentPath: tree.ParentPath(n.Path), TargetID: n.ID})
	defer o.settle(ctx, ph)

	return o.run(ctx, OpDelete, func(ctx context.Context) error {
		return o.deleteOne(ctx, n)
	})
}

// DeleteMany deletes files with concurrent independent requests, waits for
// all of them, re-fetches once and clears the multi-selection. Folders in
// nodes are ignored. A *BulkError is returned if any request failed.
func (o *Orchestrator) DeleteMany(ctx context.Context, nodes []*models.TreeNode) (Summary, error) {
	var files []*models.TreeNode
	for _, n := range nodes {
		if !n.IsFolder() {
			files = append(files, n)
		}
	}
	if len(files) == 0 {
		return Summary{}, nil
	}

	ctx = logging.WithOperation(ctx, string(OpDeleteMany))
	start := time.Now()

	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		phs  []Placeholder
		g    errgroup.Group
	)
	fail := func(id string, err error) {
		mu.Lock()
		errs[id] = err
		mu.Unlock()
	}
	for _, n := range files {
		n := n
		if n.IsPending() || n.RemoteRef == "" {
			fail(n.ID, ErrNotMutable)
			continue
		}
		if !o.busy.TryAcquire(n.ID) {
			fail(n.ID, ErrNodeBusy)
			continue
		}
		phs = append(phs, o.pending.add(Placeholder{Op: OpDelete, Kind: n.Kind, Name: n.Name, ParentPath: tree.ParentPath(n.Path), TargetID: n.ID}))
		g.Go(func() error {
			defer o.busy.Release(n.ID)
			if err := o.storage.DeleteFile(ctx, n.RemoteRef); err != nil {
				fail(n.ID, err)
				logging.WithContext(ctx).Warn("delete failed", zap.String("id", n.ID), zap.String("path", n.Path), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	sum := Summary{Succeeded: len(files) - len(errs), Failed: len(errs)}
	metrics.RecordMutation(string(OpDeleteMany), time.Since(start), sum.Failed == 0)
	logging.WithContext(ctx).Info("bulk delete settled",
		zap.Int("succeeded", sum.Succeeded), zap.Int("failed", sum.Failed))

	o.settle(ctx, phs...)
	if o.cfg.OnSelectionConsumed != nil {
		o.cfg.OnSelectionConsumed()
	}

	if sum.Failed > 0 {
		return sum, &BulkError{Op: OpDeleteMany, Succeeded: sum.Succeeded, Failed: sum.Failed, Errs: errs}
	}
	return sum, nil
}

// UploadFile uploads one local file into folder.
func (o *Orchestrator) UploadFile(ctx context.Context, file backend.UploadFile, origin, folder string) error {
	name, err := validateName(file.Name, OpUpload)
	if err != nil {
		return err
	}
	ctx = logging.WithOperation(ctx, string(OpUpload))
	ph := o.pending.add(Placeholder{Op: OpUpload, Kind: models.KindFile, Name: name, ParentPath: folder})
	defer o.settle(ctx, ph)

	return o.run(ctx, OpUpload, func(ctx context.Context) error {
		return o.storage.UploadFile(ctx, file, origin, name, folder)
	})
}

// UploadFiles uploads several local files into folder concurrently and
// re-fetches once. A *BulkError is returned if any upload failed.
func (o *Orchestrator) UploadFiles(ctx context.Context, files []backend.UploadFile, origin, folder string) error {
	if len(files) == 1 {
		return o.UploadFile(ctx, files[0], origin, folder)
	}
	ctx = logging.WithOperation(ctx, string(OpUpload))
	start := time.Now()

	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		phs  []Placeholder
		g    errgroup.Group
	)
	for _, f := range files {
		f := f
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		phs = append(phs, o.pending.add(Placeholder{Op: OpUpload, Kind: models.KindFile, Name: name, ParentPath: folder}))
		g.Go(func() error {
			if err := o.storage.UploadFile(ctx, f, origin, name, folder); err != nil {
				mu.Lock()
				errs[tree.BuildChildPath(folder, name)] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	metrics.RecordMutation(string(OpUpload), time.Since(start), len(errs) == 0)
	o.settle(ctx, phs...)

	if len(errs) > 0 {
		return &BulkError{Op: OpUpload, Succeeded: len(phs) - len(errs), Failed: len(errs), Errs: errs}
	}
	return nil
}

// UploadFolder uploads a local folder tree as folderName under parent.
func (o *Orchestrator) UploadFolder(ctx context.Context, files []backend.UploadFile, folderName, origin, parent string) error {
	name, err := validateName(folderName, OpUploadFolder)
	if err != nil {
		return err
	}
	ctx = logging.WithOperation(ctx, string(OpUploadFolder))
	ph := o.pending.add(Placeholder{Op: OpUploadFolder, Kind: models.KindFolder, Name: name, ParentPath: parent})
	defer o.settle(ctx, ph)

	return o.run(ctx, OpUploadFolder, func(ctx context.Context) error {
		return o.storage.UploadFolder(ctx, files, name, origin, parent)
	})
}

// LocateCreated waits for a node created by an outside actor to appear at
// path, re-fetching on the Locate policy. A placeholder is shown while
// waiting. Running out of attempts is not an error: found is false.
func (o *Orchestrator) LocateCreated(ctx context.Context, path string, kind models.Kind) (node *models.TreeNode, found bool, err error) {
	segs := tree.Segments(path)
	if len(segs) == 0 {
		return nil, false, ErrEmptyName
	}
	ctx = logging.WithOperation(ctx, string(OpLocate))
	ph := o.pending.add(Placeholder{Op: OpLocate, Kind: kind, Name: segs[len(segs)-1], ParentPath: tree.ParentPath(path)})
	defer o.pending.remove(ph)

	node, err = retry.DoWithResult(ctx, o.cfg.Locate, func() (*models.TreeNode, error) {
		if err := o.tree.Refresh(ctx); err != nil {
			return nil, retry.Retryable(err)
		}
		if n := o.tree.Lookup(path); n != nil {
			return n, nil
		}
		return nil, retry.Retryable(errNotVisible)
	})
	if err == nil {
		return node, true, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	logging.WithContext(ctx).Info("created node not visible yet", zap.String("path", path), zap.Error(err))
	return nil, false, nil
}
