// Package models contains the data types shared by the tree engine, its
// adapters and the components that operate on node identifiers.
package models

import (
	"strings"
	"time"
)

// Kind distinguishes files from folders.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

// Status marks nodes that exist only in UI state.
type Status int

const (
	StatusReady Status = iota
	StatusPending
)

func (s Status) String() string {
	if s == StatusPending {
		return "pending"
	}
	return "ready"
}

// Source identifies which backend produced a node. Ids are only unique
// within one source.
type Source int

const (
	SourceFlat Source = iota
	SourceDrive
)

func (s Source) String() string {
	if s == SourceDrive {
		return "drive"
	}
	return "flat"
}

// Separator splits flat-backend paths into segments.
const Separator = "/"

// DriveScheme prefixes the synthetic locator used as the path of drive nodes.
const DriveScheme = "drive://"

// FileRecord is one entry of a flat storage listing.
type FileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	RemoteRef  string    `json:"remote_ref,omitempty"`
	// Folder marks an explicit folder marker. The builder materialises the
	// full chain for it and emits no file node.
	Folder bool `json:"folder,omitempty"`
	// URL is the backend download location, if any.
	URL string `json:"url,omitempty"`
}

// TreeNode is the unified node produced by either adapter.
type TreeNode struct {
	ID         string
	Name       string
	Kind       Kind
	Path       string
	Size       int64
	ModifiedAt time.Time
	// RemoteRef is required to mutate the node. Empty for synthetic folders
	// and pending placeholders.
	RemoteRef string
	Status    Status
	Source    Source
	// Children is only meaningful for folders. When Unloaded is set the
	// children are not known yet; an empty slice with Unloaded unset means
	// the folder is known to be empty.
	Children []*TreeNode
	Unloaded bool
	Payload  Payload
}

// IsFolder reports whether n is a folder.
func (n *TreeNode) IsFolder() bool { return n.Kind == KindFolder }

// IsPending reports whether n is an optimistic placeholder.
func (n *TreeNode) IsPending() bool { return n.Status == StatusPending }

// Loaded reports whether a folder's children are fully known.
func (n *TreeNode) Loaded() bool { return n.Kind == KindFolder && !n.Unloaded }

// Ext returns the extension of the node name including the dot, or "" for
// folders and names without one. A leading dot (".env") is not an extension.
func (n *TreeNode) Ext() string {
	if n.Kind == KindFolder {
		return ""
	}
	return Ext(n.Name)
}

// Ext returns the extension of name including the dot.
func Ext(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}

// Clone returns a deep copy of n. Payloads are values and are shared.
func (n *TreeNode) Clone() *TreeNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*TreeNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// CloneAll deep-copies a slice of nodes.
func CloneAll(nodes []*TreeNode) []*TreeNode {
	if nodes == nil {
		return nil
	}
	out := make([]*TreeNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// DriveLocator returns the synthetic path used for a drive node.
func DriveLocator(id string) string {
	return DriveScheme + id
}
