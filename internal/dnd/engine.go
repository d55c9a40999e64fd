// Package dnd implements drag-and-drop reparenting on the flat tree.
//
// A drag runs Idle -> Dragging(source) -> Dragging(source, target) ->
// Reparenting -> Idle. The flat backend has no move, so a reparent is the
// non-atomic read/write/delete sequence of backend.MoveFile followed by a
// full re-fetch of the authoritative list, whatever the outcome.
package dnd

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/inflight"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

var (
	// ErrNotDraggable is returned for folders, pending placeholders and
	// nodes without a remote ref.
	ErrNotDraggable = errors.New("dnd: node is not draggable")

	// ErrInvalidTarget is returned for drops on anything but a folder or
	// the root.
	ErrInvalidTarget = errors.New("dnd: invalid drop target")

	// ErrNotDragging is returned for an internal drop without a matching
	// drag in progress.
	ErrNotDragging = errors.New("dnd: no drag in progress")

	// ErrBusy is returned while a reparent is running or the source has
	// another mutation outstanding.
	ErrBusy = errors.New("dnd: reparent in progress")
)

// State is the engine state.
type State int

const (
	Idle State = iota
	Dragging
	Reparenting
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Reparenting:
		return "reparenting"
	}
	return "idle"
}

// Marker tells a tree-node drag apart from a drop of operating system
// files.
type Marker int

const (
	Internal Marker = iota
	External
)

// Payload is the transport-level content of a drop.
type Payload struct {
	Marker Marker
	// SourceID is the dragged node, for internal drags.
	SourceID string
	// Files are the dropped files, for external drops.
	Files []backend.UploadFile
	// FolderName is set when an external drop is a whole folder.
	FolderName string
}

// Outcome is what a drop did.
type Outcome int

const (
	NoOp Outcome = iota
	Moved
	Uploaded
)

// Result describes a completed drop.
type Result struct {
	Outcome Outcome
	NewPath string
}

// Uploader receives external drops.
type Uploader interface {
	UploadFiles(ctx context.Context, files []backend.UploadFile, origin, folder string) error
	UploadFolder(ctx context.Context, files []backend.UploadFile, folderName, origin, parent string) error
}

// Snapshot is a copy of the drag state.
type Snapshot struct {
	State    State
	SourceID string
	TargetID string
	// OverRoot is set when the candidate target is the root.
	OverRoot bool
}

// Engine is the drag state machine for one flat tree.
type Engine struct {
	storage  backend.FlatStorage
	uploader Uploader
	refresh  func(context.Context) error
	busy     *inflight.Set

	mu       sync.Mutex
	state    State
	source   *models.TreeNode
	target   *models.TreeNode
	overRoot bool
	rootPath string
}

// New creates an engine. refresh re-fetches the authoritative list; busy
// is shared with the mutation orchestrator so a node never has two
// mutations outstanding.
func New(storage backend.FlatStorage, uploader Uploader, refresh func(context.Context) error, busy *inflight.Set) *Engine {
	if busy == nil {
		busy = inflight.New()
	}
	return &Engine{
		storage:  storage,
		uploader: uploader,
		refresh:  refresh,
		busy:     busy,
	}
}

// SetRootPath sets the path external drops on the root upload into: "/"
// when the backend uses absolute paths, "" otherwise.
func (e *Engine) SetRootPath(p string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rootPath = p
}

// Snapshot returns the current drag state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{State: e.state, OverRoot: e.overRoot}
	if e.source != nil {
		s.SourceID = e.source.ID
	}
	if e.target != nil {
		s.TargetID = e.target.ID
	}
	return s
}

// Draggable reports whether n may start a drag.
func Draggable(n *models.TreeNode) bool {
	return n != nil && !n.IsFolder() && !n.IsPending() && n.RemoteRef != ""
}

// DragStart begins dragging n.
func (e *Engine) DragStart(n *models.TreeNode) error {
	if !Draggable(n) {
		return ErrNotDraggable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Reparenting {
		return ErrBusy
	}
	e.state = Dragging
	e.source = n.Clone()
	e.target = nil
	e.overRoot = false
	return nil
}

// DragOver records target as the candidate drop target. A nil target is
// the root. It reports whether the target accepts the drop.
func (e *Engine) DragOver(target *models.TreeNode) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Dragging {
		return false
	}
	if target == nil {
		e.target = nil
		e.overRoot = true
		return true
	}
	if !target.IsFolder() || target.ID == e.source.ID {
		e.target = nil
		e.overRoot = false
		return false
	}
	e.target = target.Clone()
	e.overRoot = false
	return true
}

// DragLeave clears the candidate target if it is target.
func (e *Engine) DragLeave(target *models.TreeNode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target == nil {
		e.overRoot = false
		return
	}
	if e.target != nil && e.target.ID == target.ID {
		e.target = nil
	}
}

// Cancel abandons the current drag.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Dragging {
		e.reset()
	}
}

func (e *Engine) reset() {
	e.state = Idle
	e.source = nil
	e.target = nil
	e.overRoot = false
}

// Drop completes a drag on target (nil for the root). External payloads
// are uploaded into the target folder. Internal payloads reparent the
// dragged file; dropping on its current parent or on itself is a no-op
// that issues no request. A reparent always ends with a re-fetch.
func (e *Engine) Drop(ctx context.Context, p Payload, target *models.TreeNode) (Result, error) {
	if target != nil && !target.IsFolder() {
		e.Cancel()
		return Result{}, ErrInvalidTarget
	}
	if p.Marker == External {
		return e.dropExternal(ctx, p, target)
	}

	e.mu.Lock()
	if e.state != Dragging || e.source == nil || (p.SourceID != "" && p.SourceID != e.source.ID) {
		e.mu.Unlock()
		return Result{}, ErrNotDragging
	}
	source := e.source

	rootPath := ""
	if len(source.Path) > 0 && source.Path[:1] == models.Separator {
		rootPath = models.Separator
	}
	targetPath := rootPath
	if target != nil {
		targetPath = target.Path
	}
	if (target != nil && target.ID == source.ID) || tree.SamePath(tree.ParentPath(source.Path), targetPath) {
		e.reset()
		e.mu.Unlock()
		return Result{Outcome: NoOp}, nil
	}
	if !e.busy.TryAcquire(source.ID) {
		e.reset()
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.state = Reparenting
	e.mu.Unlock()

	newPath := tree.BuildChildPath(targetPath, source.Name)
	start := time.Now()
	err := backend.MoveFile(ctx, e.storage, source.RemoteRef, source.Path, newPath)
	metrics.RecordMutation("move", time.Since(start), err == nil)
	if err != nil {
		logging.Error("reparent failed",
			zap.String("id", source.ID),
			zap.String("path", source.Path),
			zap.String("new_path", newPath),
			zap.Error(err))
	} else {
		logging.Info("reparented", zap.String("path", source.Path), zap.String("new_path", newPath))
	}

	if e.refresh != nil {
		if rerr := e.refresh(ctx); rerr != nil {
			logging.Warn("refresh after reparent failed", zap.Error(rerr))
		}
	}

	e.busy.Release(source.ID)
	e.mu.Lock()
	e.reset()
	e.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Moved, NewPath: newPath}, nil
}

func (e *Engine) dropExternal(ctx context.Context, p Payload, target *models.TreeNode) (Result, error) {
	e.mu.Lock()
	folder := e.rootPath
	e.mu.Unlock()
	if target != nil {
		folder = target.Path
	}
	if e.uploader == nil || (len(p.Files) == 0 && p.FolderName == "") {
		return Result{Outcome: NoOp}, nil
	}

	var err error
	if p.FolderName != "" {
		err = e.uploader.UploadFolder(ctx, p.Files, p.FolderName, backend.OriginDrop, folder)
	} else {
		err = e.uploader.UploadFiles(ctx, p.Files, backend.OriginDrop, folder)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Uploaded, NewPath: folder}, nil
}
