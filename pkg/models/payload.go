package models

// Payload carries the source-specific fields of a node. The concrete type
// is one of FlatFile, FlatFolder, DriveFile or DriveFolder.
type Payload interface {
	payload()
}

// FlatFile is a file listed by the flat storage backend.
type FlatFile struct {
	URL string
}

// FlatFolder is a folder inferred from shared path prefixes, or from an
// explicit marker record.
type FlatFolder struct {
	Marker bool
}

// DriveFile is a file item of the remote drive.
type DriveFile struct {
	MimeType    string
	WebViewLink string
	ParentID    string
}

// DriveFolder is a native folder of the remote drive.
type DriveFolder struct {
	ParentID string
}

func (FlatFile) payload()    {}
func (FlatFolder) payload()  {}
func (DriveFile) payload()   {}
func (DriveFolder) payload() {}

// MimeType returns the drive mime type of n, or "" for flat nodes.
func MimeType(n *TreeNode) string {
	if p, ok := n.Payload.(DriveFile); ok {
		return p.MimeType
	}
	if _, ok := n.Payload.(DriveFolder); ok {
		return DriveFolderMimeType
	}
	return ""
}

// DriveFolderMimeType is the mime type the drive uses for folders.
const DriveFolderMimeType = "application/vnd.google-apps.folder"
