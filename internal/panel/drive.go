package panel

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/drive"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/selection"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

// DriveStatus returns the drive section state without consulting the gate.
func (c *Controller) DriveStatus() DriveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driveStatus
}

// DriveSection opens the drive section. The feature gate is consulted
// once; when it refuses, the section shows a permission prompt and no
// drive listing is issued. Otherwise the first root page is loaded.
func (c *Controller) DriveSection(ctx context.Context) (DriveStatus, error) {
	c.mu.Lock()
	status := c.driveStatus
	c.mu.Unlock()

	switch status {
	case DriveDisabled, DriveNeedsPermission:
		return status, nil
	case DriveUnchecked:
		status = c.checkGate(ctx)
		if status != DriveReady {
			return status, nil
		}
	}
	return status, c.loadDriveRoot(ctx)
}

// GrantDrive re-checks the gate after the user granted access and loads
// the root page when it now passes.
func (c *Controller) GrantDrive(ctx context.Context) (DriveStatus, error) {
	if c.adapter == nil {
		return DriveDisabled, nil
	}
	status := c.checkGate(ctx)
	if status != DriveReady {
		return status, nil
	}
	return status, c.loadDriveRoot(ctx)
}

func (c *Controller) checkGate(ctx context.Context) DriveStatus {
	ok := c.cfg.Gate == nil || c.cfg.Gate.IsFeatureAvailable(ctx, backend.FeatureDrive)
	status := DriveNeedsPermission
	if ok {
		status = DriveReady
	}
	c.mu.Lock()
	c.driveStatus = status
	c.mu.Unlock()
	logging.Info("drive feature gate checked", zap.Stringer("status", status))
	return status
}

func (c *Controller) loadDriveRoot(ctx context.Context) error {
	if c.adapter.RootLoaded() {
		return nil
	}
	_, _, err := c.adapter.ListRoot(ctx, 0, "")
	return c.driveRead("Could not load drive", err)
}

// driveRead turns the outcome of a drive read into the section banner. A
// response superseded by a newer listing is not a failure.
func (c *Controller) driveRead(msg string, err error) error {
	if errors.Is(err, drive.ErrStale) {
		return nil
	}
	if err != nil {
		c.setBanner(models.SourceDrive, msg+": "+err.Error())
		return err
	}
	c.clearDriveBanner()
	return nil
}

func (c *Controller) clearDriveBanner() {
	c.mu.Lock()
	had := c.driveBanner != ""
	c.driveBanner = ""
	c.mu.Unlock()
	if had {
		c.setBanner(models.SourceDrive, "")
	}
}

func (c *Controller) driveReady() bool {
	return c.adapter != nil && c.DriveStatus() == DriveReady
}

// DriveTree returns the drive tree as displayed, or nil when the section
// is not ready.
func (c *Controller) DriveTree() []*models.TreeNode {
	if !c.driveReady() {
		return nil
	}
	return c.adapter.Tree()
}

// DriveSelection returns the drive section selection manager.
func (c *Controller) DriveSelection() *selection.Manager {
	return c.driveSel
}

// ClickDrive applies a click on drive node id. Folders expand or collapse
// in the background and load their children on first expansion.
func (c *Controller) ClickDrive(id string, shift bool) selection.Action {
	if !c.driveReady() {
		return selection.ActionNone
	}
	n := c.adapter.Lookup(id)
	if n == nil {
		return selection.ActionNone
	}
	if n.IsFolder() {
		if !shift {
			c.driveSel.ClearMulti()
			c.driveSel.SetActive(id)
		}
		if err := c.spawn("drive_toggle", func(ctx context.Context) error {
			return c.toggleDrive(ctx, id)
		}); err != nil {
			return selection.ActionNone
		}
		return selection.ActionToggle
	}
	return c.driveSel.Click(n, shift)
}

func (c *Controller) toggleDrive(ctx context.Context, id string) error {
	c.driveRead("Could not load folder", c.adapter.Toggle(ctx, id))
	return nil
}

// DriveScroll forwards a scroll of the drive section; the next root page
// is fetched in the background once the threshold is crossed.
func (c *Controller) DriveScroll(scrollTop, viewportHeight, contentHeight float64) error {
	if !c.driveReady() {
		return nil
	}
	return c.spawn("drive_page", func(ctx context.Context) error {
		requested, err := c.adapter.OnScroll(ctx, scrollTop, viewportHeight, contentHeight)
		if requested || err != nil {
			c.driveRead("Could not load more files", err)
		}
		return nil
	})
}

// RefreshDrive re-lists one drive folder, or the root when folderID is "".
func (c *Controller) RefreshDrive(ctx context.Context, folderID string) error {
	if !c.driveReady() {
		return nil
	}
	if err := c.driveRead("Could not refresh drive", c.adapter.Refresh(ctx, folderID)); err != nil {
		return err
	}
	c.driveSel.Retain(c.adapter.Tree())
	return nil
}
