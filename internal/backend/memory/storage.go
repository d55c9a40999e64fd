// Package memory provides in-process implementations of the backend
// contracts. They record every call and support per-call failure
// injection, which makes them the fakes for engine tests; the demo binary
// also runs against them when no real backend is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

type object struct {
	seq    int
	ref    string
	path   string
	data   []byte
	folder bool
	mod    time.Time
}

// Storage is an in-memory backend.FlatStorage.
type Storage struct {
	mu        sync.Mutex
	objects   map[string]*object
	seq       int
	calls     []string
	failures  map[string]error
	hook      func(op, arg string)
	unhealthy bool
}

var (
	_ backend.FlatStorage = (*Storage)(nil)
	_ backend.Verifier    = (*Storage)(nil)
)

// NewStorage returns an empty storage.
func NewStorage() *Storage {
	return &Storage{
		objects:  make(map[string]*object),
		failures: make(map[string]error),
	}
}

// Put stores a file at path and returns its ref.
func (s *Storage) Put(path string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(path, data, false)
}

// PutFolder stores a folder marker at path and returns its ref.
func (s *Storage) PutFolder(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(path, nil, true)
}

func (s *Storage) put(path string, data []byte, folder bool) string {
	for _, o := range s.objects {
		if o.path == path && o.folder == folder {
			o.data = append([]byte(nil), data...)
			o.mod = time.Now()
			return o.ref
		}
	}
	s.seq++
	o := &object{
		seq:    s.seq,
		ref:    fmt.Sprintf("f%d", s.seq),
		path:   path,
		data:   append([]byte(nil), data...),
		folder: folder,
		mod:    time.Now(),
	}
	s.objects[o.ref] = o
	return o.ref
}

// Fail makes calls of op fail with err. An empty arg matches every call of
// op; otherwise only calls whose argument (usually a path) equals arg.
// A nil err clears the entry.
func (s *Storage) Fail(op, arg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := failureKey(op, arg)
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// SetHook installs fn to run at the start of every call, outside the lock.
// Tests use it to hold a call in flight.
func (s *Storage) SetHook(fn func(op, arg string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// SetListingUnsuccessful makes GetUserFiles answer success=false.
func (s *Storage) SetListingUnsuccessful(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy = v
}

// Calls returns the call log as "op arg" strings.
func (s *Storage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallCount counts logged calls of op.
func (s *Storage) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

// Paths lists stored paths in lexical order; folder markers end with the
// separator.
func (s *Storage) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for _, o := range s.objects {
		p := o.path
		if o.folder {
			p += models.Separator
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RefOf returns the ref of the file at path, or "".
func (s *Storage) RefOf(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.objects {
		if o.path == path && !o.folder {
			return o.ref
		}
	}
	return ""
}

func failureKey(op, arg string) string {
	if arg == "" {
		return op
	}
	return op + " " + arg
}

func (s *Storage) enter(op, arg string) error {
	s.mu.Lock()
	s.calls = append(s.calls, op+" "+arg)
	hook := s.hook
	err, ok := s.failures[failureKey(op, arg)]
	if !ok {
		err = s.failures[op]
	}
	s.mu.Unlock()

	if hook != nil {
		hook(op, arg)
	}
	return err
}

func (s *Storage) pathOf(ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[ref]; ok {
		return o.path
	}
	return ref
}

// GetUserFiles implements backend.FlatStorage.
func (s *Storage) GetUserFiles(ctx context.Context, user string) (backend.ListResult, error) {
	if err := s.enter("list", user); err != nil {
		return backend.ListResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unhealthy {
		return backend.ListResult{Success: false}, nil
	}

	objs := make([]*object, 0, len(s.objects))
	for _, o := range s.objects {
		objs = append(objs, o)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].seq < objs[j].seq })

	files := make([]models.FileRecord, 0, len(objs))
	for _, o := range objs {
		segs := tree.Segments(o.path)
		name := o.path
		if len(segs) > 0 {
			name = segs[len(segs)-1]
		}
		files = append(files, models.FileRecord{
			ID:         o.ref,
			Name:       name,
			Path:       o.path,
			Size:       int64(len(o.data)),
			ModifiedAt: o.mod,
			RemoteRef:  o.ref,
			Folder:     o.folder,
		})
	}
	return backend.ListResult{Success: true, Files: files}, nil
}

// CreateFolder implements backend.FlatStorage.
func (s *Storage) CreateFolder(ctx context.Context, parentPath, name string) error {
	path := tree.BuildChildPath(parentPath, name)
	if err := s.enter("mkdir", path); err != nil {
		return err
	}
	s.PutFolder(path)
	return nil
}

// RenameFile implements backend.FlatStorage.
func (s *Storage) RenameFile(ctx context.Context, fileRef, newName, oldPath string) error {
	if err := s.enter("rename", oldPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[fileRef]
	if !ok {
		return backend.ErrNotFound
	}
	o.path = tree.ReplaceLeaf(o.path, newName)
	o.mod = time.Now()
	return nil
}

func under(path, folder string) bool {
	folder = strings.TrimRight(folder, models.Separator)
	return path == folder || strings.HasPrefix(path, folder+models.Separator)
}

// RenameFolder implements backend.FlatStorage.
func (s *Storage) RenameFolder(ctx context.Context, oldPath, newName, user string) (backend.RenameFolderResult, error) {
	if err := s.enter("renamedir", oldPath); err != nil {
		return backend.RenameFolderResult{}, err
	}
	oldPath = strings.TrimRight(oldPath, models.Separator)
	newPath := tree.ReplaceLeaf(oldPath, newName)

	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, o := range s.objects {
		if under(o.path, oldPath) {
			o.path = newPath + strings.TrimPrefix(o.path, oldPath)
			found = true
		}
	}
	if !found {
		return backend.RenameFolderResult{}, backend.ErrNotFound
	}
	return backend.RenameFolderResult{Success: true, OldPath: oldPath, NewPath: newPath}, nil
}

// DeleteFile implements backend.FlatStorage.
func (s *Storage) DeleteFile(ctx context.Context, fileRef string) error {
	if err := s.enter("delete", s.pathOf(fileRef)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[fileRef]; !ok {
		return backend.ErrNotFound
	}
	delete(s.objects, fileRef)
	return nil
}

// DeleteFolder implements backend.FlatStorage. Objects whose "delete <path>"
// failure is armed are kept and counted as failed.
func (s *Storage) DeleteFolder(ctx context.Context, path, user string) (backend.FolderDeleteResult, error) {
	if err := s.enter("deletedir", path); err != nil {
		return backend.FolderDeleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res backend.FolderDeleteResult
	for ref, o := range s.objects {
		if !under(o.path, path) {
			continue
		}
		if _, armed := s.failures[failureKey("delete", o.path)]; armed {
			res.Failed++
			continue
		}
		delete(s.objects, ref)
		res.Deleted++
	}
	return res, nil
}

// ReadFile implements backend.FlatStorage.
func (s *Storage) ReadFile(ctx context.Context, fileRef string) ([]byte, error) {
	if err := s.enter("read", s.pathOf(fileRef)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[fileRef]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), o.data...), nil
}

// WriteFile implements backend.FlatStorage.
func (s *Storage) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := s.enter("write", path); err != nil {
		return err
	}
	s.Put(path, data)
	return nil
}

// Exists implements backend.Verifier.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	if err := s.enter("exists", path); err != nil {
		return false, err
	}
	return s.RefOf(path) != "", nil
}

// UploadFile implements backend.FlatStorage.
func (s *Storage) UploadFile(ctx context.Context, file backend.UploadFile, origin, displayName, folder string) error {
	path := tree.BuildChildPath(folder, file.Name)
	if err := s.enter("upload", path); err != nil {
		return err
	}
	s.Put(path, file.Data)
	return nil
}

// UploadFolder implements backend.FlatStorage.
func (s *Storage) UploadFolder(ctx context.Context, files []backend.UploadFile, folderName, origin, parent string) error {
	root := tree.BuildChildPath(parent, folderName)
	if err := s.enter("uploaddir", root); err != nil {
		return err
	}
	if len(files) == 0 {
		s.PutFolder(root)
		return nil
	}
	for _, f := range files {
		rel := f.RelPath
		if rel == "" {
			rel = f.Name
		}
		s.Put(tree.BuildChildPath(root, strings.TrimLeft(rel, models.Separator)), f.Data)
	}
	return nil
}
