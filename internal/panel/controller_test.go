package panel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/memory"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/dnd"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/drive"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/mutation"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/selection"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/retry"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

func newController(t *testing.T, s *memory.Storage) *Controller {
	t.Helper()
	c := New(Config{
		User:    "u",
		Storage: s,
		Creator: memory.NewCreator(s),
		Locate:  retry.Fixed(time.Millisecond, 3),
	})
	t.Cleanup(c.Close)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return c
}

func mustID(t *testing.T, c *Controller, path string) string {
	t.Helper()
	n := c.Lookup(path)
	if n == nil {
		t.Fatalf("no node at %q", path)
	}
	return n.ID
}

func assertNoPending(t *testing.T, c *Controller) {
	t.Helper()
	tree.Walk(c.Tree(), func(n *models.TreeNode, _ int) bool {
		if n.IsPending() {
			t.Errorf("pending node left behind: %s", n.Path)
		}
		return true
	})
}

func TestRefreshBuildsSortedTree(t *testing.T) {
	s := memory.NewStorage()
	s.Put("b.txt", nil)
	s.Put("docs/a.txt", nil)
	s.Put("docs", []byte("shadowed"))
	c := newController(t, s)

	roots := c.Tree()
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].Name != "docs" || !roots[0].IsFolder() {
		t.Errorf("folders should sort first, got %s", roots[0].Name)
	}
	if roots[1].Name != "b.txt" {
		t.Errorf("roots[1] = %s", roots[1].Name)
	}
	if got := c.Conflicts(); len(got) != 1 || got[0].FolderPath != "docs" {
		t.Errorf("conflicts = %+v", got)
	}
}

func TestRefreshFailureKeepsTreeAndSetsBanner(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	c := newController(t, s)

	s.Fail("list", "", errors.New("offline"))
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Banner(models.SourceFlat) == "" {
		t.Error("expected a flat banner")
	}
	if len(c.Tree()) != 1 {
		t.Error("previous tree should be kept")
	}
	if len(c.Alerts()) != 0 {
		t.Error("read failures must not raise alerts")
	}

	s.Fail("list", "", nil)
	s.SetListingUnsuccessful(true)
	if err := c.Refresh(context.Background()); !errors.Is(err, backend.ErrListingFailed) {
		t.Fatalf("expected ErrListingFailed, got %v", err)
	}

	s.SetListingUnsuccessful(false)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b := c.Banner(models.SourceFlat); b != "" {
		t.Errorf("banner should clear, got %q", b)
	}
}

func TestNewFolder(t *testing.T) {
	s := memory.NewStorage()
	s.PutFolder("docs")
	c := newController(t, s)

	if err := c.NewFolder(mustID(t, c, "docs"), "Reports"); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	if n := c.Lookup("docs/Reports"); n == nil || !n.IsFolder() {
		t.Fatalf("folder not created: %v", s.Paths())
	}
	assertNoPending(t, c)
}

func TestNewFolderFailureRaisesAlert(t *testing.T) {
	s := memory.NewStorage()
	c := newController(t, s)
	s.Fail("mkdir", "", errors.New("quota"))

	if err := c.NewFolder("", "Reports"); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	alerts := c.Alerts()
	if len(alerts) != 1 || alerts[0].Op != string(mutation.OpCreateFolder) {
		t.Fatalf("alerts = %+v", alerts)
	}
	assertNoPending(t, c)

	c.DismissAlerts()
	if len(c.Alerts()) != 0 {
		t.Error("alerts should be dismissed")
	}
}

func TestNewFileInsideFileUsesParent(t *testing.T) {
	s := memory.NewStorage()
	s.Put("docs/a.txt", nil)
	c := newController(t, s)

	if err := c.NewFile(backend.DocSpreadsheet, mustID(t, c, "docs/a.txt"), "Budget"); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	if c.Lookup("docs/Budget.xlsx") == nil {
		t.Errorf("paths = %v", s.Paths())
	}
}

func TestCommitRenameClosesEditorImmediately(t *testing.T) {
	s := memory.NewStorage()
	s.Put("docs/Q1.docx", nil)
	c := newController(t, s)

	id := mustID(t, c, "docs/Q1.docx")
	if err := c.BeginRename(id); err != nil {
		t.Fatal(err)
	}
	if got, value, ok := c.Editing(); !ok || got != id || value != "Q1.docx" {
		t.Fatalf("editor = %q %q %v", got, value, ok)
	}

	if err := c.CommitRename("Q1 Report"); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := c.Editing(); ok {
		t.Error("editor should close before the request resolves")
	}
	c.Wait()

	if c.Lookup("docs/Q1 Report.docx") == nil {
		t.Errorf("paths = %v", s.Paths())
	}
	assertNoPending(t, c)
}

func TestCommitRenameUnchangedIsSilent(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	c := newController(t, s)

	if err := c.BeginRename(mustID(t, c, "a.txt")); err != nil {
		t.Fatal(err)
	}
	if err := c.CommitRename("a.txt"); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	if n := s.CallCount("rename"); n != 0 {
		t.Errorf("expected no rename request, got %d", n)
	}
	if len(c.Alerts()) != 0 {
		t.Errorf("alerts = %+v", c.Alerts())
	}
}

func TestKeyDownEditing(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	c := newController(t, s)
	id := mustID(t, c, "a.txt")

	if got := c.Click(id, false); got != selection.ActionOpen {
		t.Fatalf("Click = %v", got)
	}
	if err := c.KeyDown(KeyF2); err != nil {
		t.Fatal(err)
	}
	if got, _, ok := c.Editing(); !ok || got != id {
		t.Fatal("F2 should open the editor on the active node")
	}
	if err := c.KeyDown(KeyEscape); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := c.Editing(); ok {
		t.Error("Escape should close the editor")
	}

	if err := c.KeyDown(KeyF2); err != nil {
		t.Fatal(err)
	}
	c.SetEditValue("b.txt")
	if err := c.KeyDown(KeyEnter); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	if c.Lookup("b.txt") == nil {
		t.Errorf("Enter should commit, paths = %v", s.Paths())
	}
}

func TestDeleteSelectedPartialFailure(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	s.Put("b.txt", nil)
	s.Put("c.txt", nil)
	c := newController(t, s)

	c.Click(mustID(t, c, "a.txt"), false)
	c.Click(mustID(t, c, "b.txt"), true)
	c.Click(mustID(t, c, "c.txt"), true)
	if n := c.Selection().Multi().Len(); n != 3 {
		t.Fatalf("multi = %d", n)
	}
	s.Fail("delete", "b.txt", errors.New("denied"))

	if err := c.KeyDown(KeyDelete); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	alerts := c.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	var bulk *mutation.BulkError
	if !errors.As(alerts[0].Err, &bulk) || bulk.Succeeded != 2 || bulk.Failed != 1 {
		t.Errorf("expected bulk error, got %v", alerts[0].Err)
	}
	if n := c.Selection().Multi().Len(); n != 0 {
		t.Errorf("multi-selection should be consumed, got %d", n)
	}
	if got := s.Paths(); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Errorf("paths = %v", got)
	}
	assertNoPending(t, c)
}

func TestDeleteSelectedFallsBackToActive(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	s.Put("b.txt", nil)
	c := newController(t, s)

	c.Click(mustID(t, c, "a.txt"), false)
	c.Selection().ClearMulti()
	if err := c.DeleteSelected(); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	if got := s.Paths(); !reflect.DeepEqual(got, []string{"b.txt"}) {
		t.Errorf("paths = %v", got)
	}
	if c.Selection().Active() != "" {
		t.Error("deleted node should not stay active")
	}
}

func TestDragAndDropReparents(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a/X.txt", []byte("x"))
	s.PutFolder("b")
	c := newController(t, s)

	src := mustID(t, c, "a/X.txt")
	dst := mustID(t, c, "b")
	if err := c.DragStart(src); err != nil {
		t.Fatal(err)
	}
	if !c.DragOver(dst) {
		t.Fatal("folder should accept the drop")
	}
	if err := c.Drop(dnd.Payload{Marker: dnd.Internal, SourceID: src}, dst); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	if c.Lookup("b/X.txt") == nil || c.Lookup("a/X.txt") != nil {
		t.Errorf("paths = %v", s.Paths())
	}
	if st := c.DragState().State; st != dnd.Idle {
		t.Errorf("state = %v", st)
	}
	if len(c.Alerts()) != 0 {
		t.Errorf("alerts = %+v", c.Alerts())
	}
}

func TestUploadIntoFolder(t *testing.T) {
	s := memory.NewStorage()
	s.PutFolder("docs")
	c := newController(t, s)

	files := []backend.UploadFile{{Name: "u.txt", Data: []byte("u")}, {Name: "v.txt"}}
	if err := c.Upload(files, "", mustID(t, c, "docs")); err != nil {
		t.Fatal(err)
	}
	if err := c.Upload([]backend.UploadFile{{Name: "w.txt", RelPath: "sub/w.txt"}}, "pics", ""); err != nil {
		t.Fatal(err)
	}
	c.Wait()

	for _, p := range []string{"docs/u.txt", "docs/v.txt", "pics/sub/w.txt"} {
		if c.Lookup(p) == nil {
			t.Errorf("missing %s in %v", p, s.Paths())
		}
	}
}

// alternatingListing answers every other listing with absolute paths.
type alternatingListing struct {
	*memory.Storage
	listings atomic.Int32
}

func (s *alternatingListing) GetUserFiles(ctx context.Context, user string) (backend.ListResult, error) {
	path := "a.txt"
	if s.listings.Add(1)%2 == 1 {
		path = models.Separator + path
	}
	return backend.ListResult{Success: true, Files: []models.FileRecord{
		{ID: "a", Name: "a.txt", Path: path, RemoteRef: "a"},
	}}, nil
}

func TestOverlappingRefreshesAgreeOnRootFolder(t *testing.T) {
	ctx := context.Background()
	s := &alternatingListing{Storage: memory.NewStorage()}
	c := New(Config{User: "u", Storage: s, Locate: retry.Fixed(time.Millisecond, 3)})
	t.Cleanup(c.Close)
	c.Selection().SetActive("a")

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Refresh(ctx)
			}()
		}
		wg.Wait()

		root, err := c.folderPath("")
		if err != nil {
			t.Fatal(err)
		}
		name := fmt.Sprintf("drop%d.txt", round)
		files := []backend.UploadFile{{Name: name, Data: []byte("d")}}
		if err := c.Drop(dnd.Payload{Marker: dnd.External, Files: files}, ""); err != nil {
			t.Fatal(err)
		}
		c.Wait()

		want := "upload " + tree.BuildChildPath(root, name)
		if !slices.Contains(s.Calls(), want) {
			t.Fatalf("round %d: root drop missing %q in %v", round, want, s.Calls())
		}
		if got := c.Selection().Active(); got != "a" {
			t.Fatalf("round %d: active = %q, want a", round, got)
		}
	}
}

func TestAwaitCreatedSelectsNode(t *testing.T) {
	s := memory.NewStorage()
	c := newController(t, s)

	s.SetHook(func(op, _ string) {
		if op == "list" && s.CallCount("list") == 3 {
			s.Put("late.txt", nil)
		}
	})
	if err := c.AwaitCreated("late.txt", models.KindFile); err != nil {
		t.Fatal(err)
	}
	c.Wait()
	s.SetHook(nil)

	n := c.Lookup("late.txt")
	if n == nil {
		t.Fatal("node should be found")
	}
	if c.Selection().Active() != n.ID {
		t.Error("located node should become active")
	}
	assertNoPending(t, c)
}

func TestCloseStopsWork(t *testing.T) {
	s := memory.NewStorage()
	s.Put("a.txt", nil)
	c := newController(t, s)
	c.Close()

	if err := c.NewFolder("", "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	s.Put("b.txt", nil)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.Tree()) != 1 {
		t.Error("results after Close should be ignored")
	}
}

func newDriveController(t *testing.T, d *memory.Drive, g *memory.Gate) *Controller {
	t.Helper()
	cfg := Config{User: "u", Storage: memory.NewStorage(), Drive: d}
	if g != nil {
		cfg.Gate = g
	}
	c := New(cfg)
	t.Cleanup(c.Close)
	return c
}

func TestDriveSectionDisabledWithoutDrive(t *testing.T) {
	c := newController(t, memory.NewStorage())
	st, err := c.DriveSection(context.Background())
	if err != nil || st != DriveDisabled {
		t.Errorf("DriveSection = %v, %v", st, err)
	}
}

func TestDriveSectionNeedsPermission(t *testing.T) {
	d := memory.NewDrive()
	d.Add(memory.RootID, backend.DriveItem{ID: "f1", Name: "a.pdf", MimeType: "application/pdf"})
	g := memory.NewGate()
	c := newDriveController(t, d, g)

	for i := 0; i < 2; i++ {
		st, err := c.DriveSection(context.Background())
		if err != nil || st != DriveNeedsPermission {
			t.Fatalf("DriveSection = %v, %v", st, err)
		}
	}
	if g.Checks() != 1 {
		t.Errorf("gate should be consulted once, got %d", g.Checks())
	}
	if d.Calls(memory.RootID) != 0 {
		t.Error("no drive listing may be issued without permission")
	}
	if c.DriveTree() != nil {
		t.Error("drive tree should be empty")
	}

	g.Set(backend.FeatureDrive, true)
	st, err := c.GrantDrive(context.Background())
	if err != nil || st != DriveReady {
		t.Fatalf("GrantDrive = %v, %v", st, err)
	}
	if got := c.DriveTree(); len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("drive tree = %+v", got)
	}
}

func TestDriveFolderClickLoadsChildren(t *testing.T) {
	d := memory.NewDrive()
	d.Add(memory.RootID, backend.DriveItem{ID: "d1", Name: "Projects", MimeType: models.DriveFolderMimeType})
	d.Add("d1", backend.DriveItem{ID: "f2", Name: "plan.txt", MimeType: "text/plain"})
	c := newDriveController(t, d, memory.NewGate(backend.FeatureDrive))

	if _, err := c.DriveSection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.DriveTree(); len(got) != 1 || !got[0].Unloaded {
		t.Fatalf("folder should start unloaded: %+v", got)
	}

	if got := c.ClickDrive("d1", false); got != selection.ActionToggle {
		t.Fatalf("ClickDrive = %v", got)
	}
	c.Wait()

	root := c.DriveTree()
	if len(root[0].Children) != 1 || root[0].Children[0].ID != "f2" {
		t.Errorf("children = %+v", root[0].Children)
	}
	if got := c.ClickDrive("f2", false); got != selection.ActionOpen {
		t.Errorf("file click = %v", got)
	}
	if c.DriveSelection().Active() != "f2" {
		t.Error("drive file should be active")
	}
}

func TestDriveFolderFailureSetsBanner(t *testing.T) {
	d := memory.NewDrive()
	d.Add(memory.RootID, backend.DriveItem{ID: "d1", Name: "Projects", MimeType: models.DriveFolderMimeType})
	d.Fail("d1", errors.New("boom"))
	c := newDriveController(t, d, nil)

	if _, err := c.DriveSection(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.ClickDrive("d1", false)
	c.Wait()

	if c.Banner(models.SourceDrive) == "" {
		t.Error("expected a drive banner")
	}
	if len(c.Alerts()) != 0 {
		t.Error("drive read failures must not raise alerts")
	}

	d.Fail("d1", nil)
	c.ClickDrive("d1", false)
	c.Wait()
	if c.Banner(models.SourceDrive) != "" {
		t.Error("banner should clear after a successful load")
	}
}

// holdFirstListing blocks the first drive listing of id until release is
// closed.
func holdFirstListing(d *memory.Drive, id string) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var armed atomic.Bool
	armed.Store(true)
	d.SetHook(func(_, got string) {
		if got == id && armed.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
	})
	return entered, release
}

func TestDriveRefreshDuringExpandKeepsFolderOpen(t *testing.T) {
	d := memory.NewDrive()
	d.Add(memory.RootID, backend.DriveItem{ID: "d1", Name: "Projects", MimeType: models.DriveFolderMimeType})
	d.Add("d1", backend.DriveItem{ID: "f2", Name: "plan.txt", MimeType: "text/plain"})
	c := newDriveController(t, d, nil)
	ctx := context.Background()
	if _, err := c.DriveSection(ctx); err != nil {
		t.Fatal(err)
	}

	entered, release := holdFirstListing(d, "d1")
	c.ClickDrive("d1", false)
	<-entered
	if err := c.RefreshDrive(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	close(release)
	c.Wait()

	if b := c.Banner(models.SourceDrive); b != "" {
		t.Errorf("superseded response must not set a banner, got %q", b)
	}
	if got := c.adapter.FolderState("d1"); got != drive.Expanded {
		t.Errorf("state = %v, want expanded", got)
	}
	if root := c.DriveTree(); len(root[0].Children) != 1 {
		t.Errorf("children = %+v", root[0].Children)
	}
}

func TestDriveRootRefreshDuringScroll(t *testing.T) {
	d := memory.NewDrive()
	for _, id := range []string{"a", "b", "c"} {
		d.Add(memory.RootID, backend.DriveItem{ID: id, Name: id + ".txt", MimeType: "text/plain"})
	}
	c := New(Config{User: "u", Storage: memory.NewStorage(), Drive: d, Paging: drive.Config{PageSize: 1}})
	t.Cleanup(c.Close)
	ctx := context.Background()
	if _, err := c.DriveSection(ctx); err != nil {
		t.Fatal(err)
	}

	entered, release := holdFirstListing(d, memory.RootID)
	if err := c.DriveScroll(900, 100, 1000); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := c.RefreshDrive(ctx, ""); err != nil {
		t.Fatal(err)
	}
	close(release)
	c.Wait()

	if b := c.Banner(models.SourceDrive); b != "" {
		t.Errorf("superseded page must not set a banner, got %q", b)
	}
	if got := len(c.DriveTree()); got != 1 {
		t.Errorf("drive root = %d nodes, want the refreshed first page", got)
	}
}
