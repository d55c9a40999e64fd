// Package pgstore provides a PostgreSQL-backed flat storage. Files are rows
// addressed by id and a path string; folders exist only as marker rows or
// as shared path prefixes, exactly like an object store.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

const schema = `
CREATE TABLE IF NOT EXISTS tree_files (
	id           TEXT PRIMARY KEY,
	owner        TEXT NOT NULL,
	path         TEXT NOT NULL,
	is_dir       BOOLEAN NOT NULL DEFAULT FALSE,
	size         BIGINT NOT NULL DEFAULT 0,
	content      BYTEA,
	display_name TEXT NOT NULL DEFAULT '',
	origin       TEXT NOT NULL DEFAULT '',
	mod_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner, path, is_dir)
);
CREATE INDEX IF NOT EXISTS tree_files_owner_path ON tree_files (owner, path text_pattern_ops);
`

// Store is a PostgreSQL flat storage scoped to one session user.
type Store struct {
	db   *sql.DB
	user string
}

var (
	_ backend.FlatStorage = (*Store)(nil)
	_ backend.Verifier    = (*Store)(nil)
)

// New opens the database and ensures the schema exists.
func New(ctx context.Context, databaseURL, user string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Store{db: db, user: user}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) owner(user string) string {
	if user == "" {
		return s.user
	}
	return user
}

// normalizePath strips empty segments so paths compare by value.
func normalizePath(path string) string {
	return strings.Join(tree.Segments(path), models.Separator)
}

// likePrefix returns a LIKE pattern matching everything below folder.
func likePrefix(folder string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(normalizePath(folder)) + "/%"
}

func observe(query string, start time.Time) {
	metrics.RecordDBQuery(query, time.Since(start))
}

// GetUserFiles implements backend.FlatStorage.
func (s *Store) GetUserFiles(ctx context.Context, user string) (backend.ListResult, error) {
	start := time.Now()
	defer observe("list_files", start)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, is_dir, size, mod_time FROM tree_files WHERE owner = $1 ORDER BY path`,
		s.owner(user))
	if err != nil {
		return backend.ListResult{}, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		var r models.FileRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.Folder, &r.Size, &r.ModifiedAt); err != nil {
			return backend.ListResult{}, fmt.Errorf("scan row: %w", err)
		}
		segs := tree.Segments(r.Path)
		if len(segs) > 0 {
			r.Name = segs[len(segs)-1]
		}
		r.RemoteRef = r.ID
		files = append(files, r)
	}
	if err := rows.Err(); err != nil {
		return backend.ListResult{}, fmt.Errorf("rows error: %w", err)
	}
	return backend.ListResult{Success: true, Files: files}, nil
}

func (s *Store) insert(ctx context.Context, path string, isDir bool, data []byte, displayName, origin string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tree_files (id, owner, path, is_dir, size, content, display_name, origin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (owner, path, is_dir) DO UPDATE
		 SET size = EXCLUDED.size, content = EXCLUDED.content, mod_time = now()`,
		uuid.NewString(), s.user, normalizePath(path), isDir, len(data), data, displayName, origin)
	return err
}

// CreateFolder implements backend.FlatStorage.
func (s *Store) CreateFolder(ctx context.Context, parentPath, name string) error {
	start := time.Now()
	defer observe("create_folder", start)

	path := tree.BuildChildPath(parentPath, name)
	if err := s.insert(ctx, path, true, nil, "", ""); err != nil {
		return fmt.Errorf("create folder %s: %w", path, err)
	}
	return nil
}

// RenameFile implements backend.FlatStorage.
func (s *Store) RenameFile(ctx context.Context, fileRef, newName, oldPath string) error {
	start := time.Now()
	defer observe("rename_file", start)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tree_files SET path = $1, mod_time = now() WHERE id = $2 AND owner = $3`,
		normalizePath(tree.ReplaceLeaf(oldPath, newName)), fileRef, s.user)
	if err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// RenameFolder implements backend.FlatStorage.
func (s *Store) RenameFolder(ctx context.Context, oldPath, newName, user string) (backend.RenameFolderResult, error) {
	start := time.Now()
	defer observe("rename_folder", start)

	oldNorm := normalizePath(oldPath)
	newNorm := normalizePath(tree.ReplaceLeaf(oldNorm, newName))
	res, err := s.db.ExecContext(ctx,
		`UPDATE tree_files
		 SET path = $1 || substr(path, length($2) + 1), mod_time = now()
		 WHERE owner = $3 AND (path = $2 OR path LIKE $4)`,
		newNorm, oldNorm, s.owner(user), likePrefix(oldNorm))
	if err != nil {
		return backend.RenameFolderResult{}, fmt.Errorf("rename folder %s: %w", oldPath, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.RenameFolderResult{}, backend.ErrNotFound
	}
	return backend.RenameFolderResult{Success: true, OldPath: oldPath, NewPath: tree.ReplaceLeaf(oldPath, newName)}, nil
}

// DeleteFile implements backend.FlatStorage.
func (s *Store) DeleteFile(ctx context.Context, fileRef string) error {
	start := time.Now()
	defer observe("delete_file", start)

	res, err := s.db.ExecContext(ctx, `DELETE FROM tree_files WHERE id = $1 AND owner = $2`, fileRef, s.user)
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileRef, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// DeleteFolder implements backend.FlatStorage. Rows that vanish between
// the select and the delete count as failed.
func (s *Store) DeleteFolder(ctx context.Context, path, user string) (backend.FolderDeleteResult, error) {
	start := time.Now()
	defer observe("delete_folder", start)

	norm := normalizePath(path)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tree_files WHERE owner = $1 AND (path = $2 OR path LIKE $3)`,
		s.owner(user), norm, likePrefix(norm))
	if err != nil {
		return backend.FolderDeleteResult{}, fmt.Errorf("select folder %s: %w", path, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return backend.FolderDeleteResult{}, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return backend.FolderDeleteResult{}, nil
	}

	var n int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM tree_files WHERE id = ANY($1)`, pq.Array(ids))
	if err == nil {
		n, _ = res.RowsAffected()
	}
	return folderDeleteResult(path, len(ids), n, err), nil
}

// folderDeleteResult counts the outcome of a folder delete. A failed
// statement leaves every selected row in place.
func folderDeleteResult(path string, selected int, deleted int64, err error) backend.FolderDeleteResult {
	if err != nil {
		logging.Warn("folder delete failed", zap.String("path", path), zap.Error(err))
		return backend.FolderDeleteResult{Failed: selected}
	}
	if int(deleted) < selected {
		logging.Warn("folder delete incomplete",
			zap.String("path", path), zap.Int64("deleted", deleted), zap.Int("selected", selected))
	}
	return backend.FolderDeleteResult{Deleted: int(deleted), Failed: selected - int(deleted)}
}

// ReadFile implements backend.FlatStorage.
func (s *Store) ReadFile(ctx context.Context, fileRef string) ([]byte, error) {
	start := time.Now()
	defer observe("read_file", start)

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM tree_files WHERE id = $1 AND owner = $2 AND NOT is_dir`, fileRef, s.user).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileRef, err)
	}
	return data, nil
}

// WriteFile implements backend.FlatStorage.
func (s *Store) WriteFile(ctx context.Context, path string, data []byte) error {
	start := time.Now()
	defer observe("write_file", start)

	if err := s.insert(ctx, path, false, data, "", ""); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Exists implements backend.Verifier.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	defer observe("exists", start)

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tree_files WHERE owner = $1 AND path = $2 AND NOT is_dir)`,
		s.user, normalizePath(path)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", path, err)
	}
	return exists, nil
}

// UploadFile implements backend.FlatStorage.
func (s *Store) UploadFile(ctx context.Context, file backend.UploadFile, origin, displayName, folder string) error {
	start := time.Now()
	defer observe("upload_file", start)

	path := tree.BuildChildPath(folder, file.Name)
	if err := s.insert(ctx, path, false, file.Data, displayName, origin); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// UploadFolder implements backend.FlatStorage. All files land in one
// transaction so a failed upload leaves no partial folder.
func (s *Store) UploadFolder(ctx context.Context, files []backend.UploadFile, folderName, origin, parent string) error {
	start := time.Now()
	defer observe("upload_folder", start)

	root := tree.BuildChildPath(parent, folderName)
	if len(files) == 0 {
		return s.insert(ctx, root, true, nil, "", origin)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tree_files (id, owner, path, is_dir, size, content, origin)
		 VALUES ($1, $2, $3, FALSE, $4, $5, $6)
		 ON CONFLICT (owner, path, is_dir) DO UPDATE
		 SET size = EXCLUDED.size, content = EXCLUDED.content, mod_time = now()`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		rel := f.RelPath
		if rel == "" {
			rel = f.Name
		}
		path := normalizePath(tree.BuildChildPath(root, rel))
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), s.user, path, len(f.Data), f.Data, origin); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}
	return tx.Commit()
}
