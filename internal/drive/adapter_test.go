package drive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend/memory"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

func folder(id, name string) backend.DriveItem {
	return backend.DriveItem{ID: id, Name: name, MimeType: models.DriveFolderMimeType}
}

func file(id, name string) backend.DriveItem {
	return backend.DriveItem{ID: id, Name: name, MimeType: "text/plain"}
}

func newTestDrive() *memory.Drive {
	d := memory.NewDrive()
	d.Add(memory.RootID, file("r1", "zeta.txt"))
	d.Add(memory.RootID, folder("F1", "Projects"))
	d.Add(memory.RootID, file("r2", "Alpha.txt"))
	d.Add("F1", file("c1", "plan.md"))
	d.Add("F1", folder("F2", "archive"))
	return d
}

func TestNodeFromItem(t *testing.T) {
	n := NodeFromItem(backend.DriveItem{ID: "x", Name: "Doc", MimeType: "application/pdf", Parents: []string{"p"}, WebViewLink: "https://v"})
	if n.Path != "drive://x" || n.RemoteRef != "x" || n.Source != models.SourceDrive || n.IsFolder() {
		t.Errorf("unexpected node %+v", n)
	}
	p, ok := n.Payload.(models.DriveFile)
	if !ok || p.ParentID != "p" || p.WebViewLink != "https://v" {
		t.Errorf("unexpected payload %#v", n.Payload)
	}

	f := NodeFromItem(folder("F", "Dir"))
	if !f.IsFolder() || !f.Unloaded || f.Loaded() {
		t.Errorf("folder should start unloaded: %+v", f)
	}
}

func TestListChildrenCached(t *testing.T) {
	d := newTestDrive()
	a := New(d, Config{}, nil)
	ctx := context.Background()

	first, err := a.ListChildren(ctx, "F1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.ListChildren(ctx, "F1")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("children = %d, %d", len(first), len(second))
	}
	if d.Calls("F1") != 1 {
		t.Errorf("expected one fetch, got %d", d.Calls("F1"))
	}
}

func TestConcurrentExpandSingleFetch(t *testing.T) {
	d := newTestDrive()
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	d.SetHook(func(kind, id string) {
		if id == "F1" {
			entered <- struct{}{}
			<-release
		}
	})
	a := New(d, Config{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- a.Expand(ctx, "F1")
	}()
	<-entered

	if got := a.FolderState("F1"); got != Loading {
		t.Errorf("state while in flight = %v, want loading", got)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- a.Expand(ctx, "F1")
	}()
	// Give the second expand time to join the in-flight request.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Expand: %v", err)
		}
	}
	if d.Calls("F1") != 1 {
		t.Errorf("expected one listFilesInFolder(F1), got %d", d.Calls("F1"))
	}
	if got := a.FolderState("F1"); got != Expanded {
		t.Errorf("state = %v, want expanded", got)
	}
}

func TestExpandErrorCollapses(t *testing.T) {
	d := newTestDrive()
	d.Fail("F1", errors.New("boom"))
	a := New(d, Config{}, nil)
	ctx := context.Background()

	if err := a.Expand(ctx, "F1"); err == nil {
		t.Fatal("expected error")
	}
	if a.FolderState("F1") != Collapsed || a.Loaded("F1") {
		t.Error("failed expand must leave the folder collapsed and uncached")
	}

	d.Fail("F1", nil)
	if err := a.Expand(ctx, "F1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d.Calls("F1") != 2 {
		t.Errorf("expected retry to fetch again, calls = %d", d.Calls("F1"))
	}
}

func TestCollapseRetainsCache(t *testing.T) {
	d := newTestDrive()
	a := New(d, Config{}, nil)
	ctx := context.Background()

	if err := a.Expand(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	a.Collapse("F1")
	if a.FolderState("F1") != Collapsed {
		t.Error("expected collapsed")
	}
	if err := a.Expand(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	if d.Calls("F1") != 1 {
		t.Errorf("re-expand should hit the cache, calls = %d", d.Calls("F1"))
	}
}

func TestListRootPaging(t *testing.T) {
	d := memory.NewDrive()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.Add(memory.RootID, file(id, id+".txt"))
	}
	a := New(d, Config{PageSize: 2}, nil)
	ctx := context.Background()

	_, token, err := a.ListRoot(ctx, 2, "")
	if err != nil || token == "" {
		t.Fatalf("first page: token=%q err=%v", token, err)
	}
	if _, _, err := a.ListRoot(ctx, 2, token); err != nil {
		t.Fatal(err)
	}
	if got := len(a.Tree()); got != 4 {
		t.Errorf("after append: %d root nodes, want 4", got)
	}

	n, err := a.LoadMore(ctx)
	if err != nil || n != 1 {
		t.Errorf("LoadMore = %d, %v", n, err)
	}
	if a.HasMore() {
		t.Error("expected no more pages")
	}
	if n, err := a.LoadMore(ctx); n != 0 || err != nil {
		t.Errorf("LoadMore at end = %d, %v", n, err)
	}

	// Omitting the token resets the listing.
	if _, _, err := a.ListRoot(ctx, 2, ""); err != nil {
		t.Fatal(err)
	}
	if got := len(a.Tree()); got != 2 {
		t.Errorf("after reset: %d root nodes, want 2", got)
	}
}

func TestLoadMoreReentrancy(t *testing.T) {
	d := memory.NewDrive()
	for _, id := range []string{"a", "b", "c"} {
		d.Add(memory.RootID, file(id, id))
	}
	a := New(d, Config{PageSize: 1}, nil)
	ctx := context.Background()
	if _, _, err := a.ListRoot(ctx, 1, ""); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	entered := make(chan struct{})
	d.SetHook(func(kind, id string) {
		entered <- struct{}{}
		<-release
	})

	done := make(chan error)
	go func() {
		_, err := a.LoadMore(ctx)
		done <- err
	}()
	<-entered

	if _, err := a.LoadMore(ctx); !errors.Is(err, ErrFetchInFlight) {
		t.Errorf("expected ErrFetchInFlight, got %v", err)
	}
	if requested, err := a.OnScroll(ctx, 900, 100, 1000); requested || err != nil {
		t.Errorf("OnScroll during fetch = %v, %v", requested, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if d.Calls(memory.RootID) != 2 {
		t.Errorf("expected 2 root calls, got %d", d.Calls(memory.RootID))
	}
}

func TestOnScrollThreshold(t *testing.T) {
	d := memory.NewDrive()
	for _, id := range []string{"a", "b"} {
		d.Add(memory.RootID, file(id, id))
	}
	a := New(d, Config{PageSize: 1, ScrollThreshold: 200}, nil)
	ctx := context.Background()
	if _, _, err := a.ListRoot(ctx, 1, ""); err != nil {
		t.Fatal(err)
	}

	if requested, _ := a.OnScroll(ctx, 0, 100, 1000); requested {
		t.Error("far from the bottom should not load")
	}
	requested, err := a.OnScroll(ctx, 750, 100, 1000)
	if !requested || err != nil {
		t.Errorf("near the bottom: requested=%v err=%v", requested, err)
	}
	if requested, _ := a.OnScroll(ctx, 900, 100, 1000); requested {
		t.Error("no further page should be requested")
	}
}

func TestRefreshReplacesOneFolder(t *testing.T) {
	d := newTestDrive()
	a := New(d, Config{}, nil)
	ctx := context.Background()

	if err := a.Expand(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	d.Add("F1", file("c2", "notes.md"))
	if err := a.Refresh(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	children, _ := a.ListChildren(ctx, "F1")
	if len(children) != 3 {
		t.Errorf("children after refresh = %d, want 3", len(children))
	}
	if d.Calls("F1") != 2 {
		t.Errorf("calls = %d, want 2", d.Calls("F1"))
	}
}

func TestTreeSortsAndMarksUnloaded(t *testing.T) {
	d := newTestDrive()
	a := New(d, Config{}, nil)
	ctx := context.Background()

	if _, _, err := a.ListRoot(ctx, 0, ""); err != nil {
		t.Fatal(err)
	}
	roots := a.Tree()
	names := []string{roots[0].Name, roots[1].Name, roots[2].Name}
	if names[0] != "Projects" || names[1] != "Alpha.txt" || names[2] != "zeta.txt" {
		t.Errorf("root order = %v", names)
	}
	if !roots[0].Unloaded || roots[0].Children != nil {
		t.Error("unexpanded folder must be unloaded")
	}

	if err := a.Expand(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	roots = a.Tree()
	proj := roots[0]
	if proj.Unloaded || len(proj.Children) != 2 {
		t.Fatalf("expanded folder = %+v", proj)
	}
	if proj.Children[0].Name != "archive" || !proj.Children[0].Unloaded {
		t.Errorf("nested folder should sort first and stay unloaded: %+v", proj.Children[0])
	}
	if a.Lookup("c1") == nil {
		t.Error("Lookup should find cached children")
	}
}

// holdOnce blocks the first listing of id until release is closed.
func holdOnce(d *memory.Drive, id string) (entered, release chan struct{}) {
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

func TestListChildrenStaleAfterRefresh(t *testing.T) {
	d := newTestDrive()
	entered, release := holdOnce(d, "F1")
	a := New(d, Config{}, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := a.ListChildren(ctx, "F1")
		done <- err
	}()
	<-entered

	d.Add("F1", file("c2", "notes.md"))
	if err := a.Refresh(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	d.Add("F1", file("c3", "late.md"))
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	children, err := a.ListChildren(ctx, "F1")
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 3 {
		t.Errorf("stale response replaced the refreshed cache: %d children", len(children))
	}
}

func TestExpandSurvivesConcurrentRefresh(t *testing.T) {
	d := newTestDrive()
	entered, release := holdOnce(d, "F1")
	a := New(d, Config{}, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- a.Expand(ctx, "F1") }()
	<-entered

	if err := a.Refresh(ctx, "F1"); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := a.FolderState("F1"); got != Expanded {
		t.Errorf("state = %v, want expanded", got)
	}
}

func TestLoadMoreDroppedAfterRootReset(t *testing.T) {
	d := memory.NewDrive()
	for _, id := range []string{"a", "b", "c"} {
		d.Add(memory.RootID, file(id, id))
	}
	a := New(d, Config{PageSize: 1}, nil)
	ctx := context.Background()
	if _, _, err := a.ListRoot(ctx, 1, ""); err != nil {
		t.Fatal(err)
	}

	entered, release := holdOnce(d, memory.RootID)
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := a.LoadMore(ctx)
		done <- result{n, err}
	}()
	<-entered

	if _, _, err := a.ListRoot(ctx, 1, ""); err != nil {
		t.Fatal(err)
	}
	close(release)

	if r := <-done; r.n != 0 || r.err != nil {
		t.Errorf("LoadMore = %d, %v; want 0, nil", r.n, r.err)
	}
	if got := len(a.Tree()); got != 1 {
		t.Errorf("stale page was appended: %d root nodes", got)
	}
	if !a.HasMore() {
		t.Error("reset listing should still have more pages")
	}
}
