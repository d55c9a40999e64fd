package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
)

// RootID is the parent id of root-level drive items.
const RootID = "root"

// Drive is an in-memory backend.Drive.
type Drive struct {
	mu       sync.Mutex
	children map[string][]backend.DriveItem
	calls    map[string]int
	failures map[string]error
	hook     func(kind, id string)
}

var _ backend.Drive = (*Drive)(nil)

// NewDrive returns an empty drive.
func NewDrive() *Drive {
	return &Drive{
		children: make(map[string][]backend.DriveItem),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// Add appends item under parentID (RootID for the root).
func (d *Drive) Add(parentID string, item backend.DriveItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(item.Parents) == 0 {
		item.Parents = []string{parentID}
	}
	d.children[parentID] = append(d.children[parentID], item)
}

// Fail makes listings of id (RootID for root pages) fail with err; nil
// clears it.
func (d *Drive) Fail(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, id)
		return
	}
	d.failures[id] = err
}

// SetHook installs fn to run at the start of every listing, outside the
// lock. kind is "root" or "folder".
func (d *Drive) SetHook(fn func(kind, id string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = fn
}

// Calls returns how many listings of id were issued.
func (d *Drive) Calls(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

func (d *Drive) enter(kind, id string) error {
	d.mu.Lock()
	d.calls[id]++
	hook := d.hook
	err := d.failures[id]
	d.mu.Unlock()
	if hook != nil {
		hook(kind, id)
	}
	return err
}

// ListRootFiles implements backend.Drive. Page tokens are offsets.
func (d *Drive) ListRootFiles(ctx context.Context, pageSize int, pageToken string) (backend.DrivePage, error) {
	if err := d.enter("root", RootID); err != nil {
		return backend.DrivePage{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	all := d.children[RootID]
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return backend.DrivePage{}, err
		}
		start = n
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	page := backend.DrivePage{Files: append([]backend.DriveItem(nil), all[start:end]...)}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// ListFilesInFolder implements backend.Drive.
func (d *Drive) ListFilesInFolder(ctx context.Context, folderID string) ([]backend.DriveItem, error) {
	if err := d.enter("folder", folderID); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]backend.DriveItem(nil), d.children[folderID]...), nil
}
