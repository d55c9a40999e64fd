// Package backend defines the collaborator contracts the tree engine calls
// out to: a flat object storage, a paginated remote drive, a feature gate
// and an external document creator. Implementations handle transport;
// the engine only depends on these interfaces.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

var (
	// ErrNotFound is returned when a ref or path does not exist.
	ErrNotFound = errors.New("not found")

	// ErrListingFailed is returned when a listing reports success=false.
	ErrListingFailed = errors.New("listing failed")
)

// ListResult is the response of a flat storage listing.
type ListResult struct {
	Success bool
	Files   []models.FileRecord
}

// RenameFolderResult is the response of a folder rename.
type RenameFolderResult struct {
	Success bool
	OldPath string
	NewPath string
}

// FolderDeleteResult counts the objects removed by a recursive delete.
type FolderDeleteResult struct {
	Deleted int
	Failed  int
}

// UploadFile is one local file handed to an upload.
type UploadFile struct {
	Name string
	// RelPath is the path below the uploaded folder root, for folder uploads.
	RelPath     string
	Data        []byte
	ContentType string
}

// Upload origins.
const (
	OriginPicker = "picker"
	OriginDrop   = "drop"
)

// FlatStorage is an object store addressed by opaque file refs and path
// strings, with no native folders.
type FlatStorage interface {
	GetUserFiles(ctx context.Context, user string) (ListResult, error)
	CreateFolder(ctx context.Context, parentPath, name string) error
	RenameFile(ctx context.Context, fileRef, newName, oldPath string) error
	RenameFolder(ctx context.Context, oldPath, newName, user string) (RenameFolderResult, error)
	DeleteFile(ctx context.Context, fileRef string) error
	DeleteFolder(ctx context.Context, path, user string) (FolderDeleteResult, error)
	ReadFile(ctx context.Context, fileRef string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	UploadFile(ctx context.Context, file UploadFile, origin, displayName, folder string) error
	UploadFolder(ctx context.Context, files []UploadFile, folderName, origin, parent string) error
}

// Verifier is implemented by storages that can confirm a path exists.
type Verifier interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// DriveItem is one entry of a remote drive listing.
type DriveItem struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
	Parents      []string
	WebViewLink  string
}

// DrivePage is one page of the root listing.
type DrivePage struct {
	Files         []DriveItem
	NextPageToken string
}

// Drive is the remote drive listing API.
type Drive interface {
	ListRootFiles(ctx context.Context, pageSize int, pageToken string) (DrivePage, error)
	ListFilesInFolder(ctx context.Context, folderID string) ([]DriveItem, error)
}

// FeatureGate reports whether an optional integration may be used.
type FeatureGate interface {
	IsFeatureAvailable(ctx context.Context, feature string) bool
}

// FeatureDrive names the remote drive integration.
const FeatureDrive = "drive"

// StaticGate is a FeatureGate backed by a fixed feature list.
type StaticGate map[string]bool

// IsFeatureAvailable implements FeatureGate.
func (g StaticGate) IsFeatureAvailable(_ context.Context, feature string) bool {
	return g[feature]
}

// DocKind selects the document type an external creator produces.
type DocKind string

const (
	DocDocument    DocKind = "document"
	DocSpreadsheet DocKind = "spreadsheet"
	DocCanvas      DocKind = "canvas"
	DocNotebook    DocKind = "notebook"
	DocText        DocKind = "text"
)

// Extension returns the default file extension for k.
func (k DocKind) Extension() string {
	switch k {
	case DocDocument:
		return ".docx"
	case DocSpreadsheet:
		return ".xlsx"
	case DocCanvas:
		return ".tldraw"
	case DocNotebook:
		return ".ipynb"
	case DocText:
		return ".txt"
	}
	return ""
}

// DocumentCreator creates typed documents on behalf of the tree.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, kind DocKind, parentPath, name string) error
}

// FolderDeleteError reports a recursive delete that left objects behind.
type FolderDeleteError struct {
	Path    string
	Deleted int
	Failed  int
}

func (e *FolderDeleteError) Error() string {
	return fmt.Sprintf("delete folder %s: %d deleted, %d failed", e.Path, e.Deleted, e.Failed)
}
