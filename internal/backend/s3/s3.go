// Package s3 provides the flat storage backend over an S3-compatible
// object store. Objects live under "<user>/<path>"; empty folders are kept
// as zero-byte keys ending in "/".
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/Banbury-inc/Banbury-Website-sub002/internal/backend"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/logging"
	"github.com/Banbury-inc/Banbury-Website-sub002/internal/metrics"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/tree"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// API is the subset of the S3 client the backend uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Storage implements backend.FlatStorage using S3/MinIO.
type Storage struct {
	client API
	bucket string
	user   string
}

var (
	_ backend.FlatStorage = (*Storage)(nil)
	_ backend.Verifier    = (*Storage)(nil)
)

// New creates a storage for user's files.
func New(ctx context.Context, cfg Config, user string) (*Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true // Required for MinIO
	})

	return NewWithClient(client, cfg.Bucket, user), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket, user string) *Storage {
	return &Storage{client: client, bucket: bucket, user: user}
}

func (s *Storage) prefix(user string) string {
	if user == "" {
		user = s.user
	}
	return user + "/"
}

// key maps a logical path to an object key.
func (s *Storage) key(path string) string {
	return s.prefix("") + strings.Join(tree.Segments(path), models.Separator)
}

func (s *Storage) folderKey(path string) string {
	return s.key(path) + "/"
}

func record(op string, start time.Time, err error) {
	metrics.RecordS3Operation(op, time.Since(start), err == nil)
}

// copySource escapes bucket/key for CopyObject.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func (s *Storage) listKeys(ctx context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Contents...)
	}
	return out, nil
}

// GetUserFiles implements backend.FlatStorage.
func (s *Storage) GetUserFiles(ctx context.Context, user string) (res backend.ListResult, err error) {
	start := time.Now()
	defer func() { record("list", start, err) }()

	prefix := s.prefix(user)
	objects, err := s.listKeys(ctx, prefix)
	if err != nil {
		return backend.ListResult{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	files := make([]models.FileRecord, 0, len(objects))
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		path := strings.TrimPrefix(key, prefix)
		if path == "" {
			continue
		}
		folder := strings.HasSuffix(path, "/")
		path = strings.TrimSuffix(path, "/")
		segs := tree.Segments(path)
		if len(segs) == 0 {
			continue
		}
		rec := models.FileRecord{
			ID:        key,
			Name:      segs[len(segs)-1],
			Path:      path,
			Size:      aws.ToInt64(obj.Size),
			RemoteRef: key,
			Folder:    folder,
		}
		if obj.LastModified != nil {
			rec.ModifiedAt = *obj.LastModified
		}
		files = append(files, rec)
	}
	return backend.ListResult{Success: true, Files: files}, nil
}

// CreateFolder implements backend.FlatStorage.
func (s *Storage) CreateFolder(ctx context.Context, parentPath, name string) (err error) {
	start := time.Now()
	defer func() { record("create_folder", start, err) }()

	key := s.folderKey(tree.BuildChildPath(parentPath, name))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("put folder marker %s: %w", key, err)
	}
	return nil
}

// rekey copies src to dst and removes src.
func (s *Storage) rekey(ctx context.Context, src, dst string) error {
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(copySource(s.bucket, src)),
		Key:        aws.String(dst),
	}); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(src),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", src, err)
	}
	return nil
}

// RenameFile implements backend.FlatStorage.
func (s *Storage) RenameFile(ctx context.Context, fileRef, newName, oldPath string) (err error) {
	start := time.Now()
	defer func() { record("rename_file", start, err) }()

	dst := s.key(tree.ReplaceLeaf(oldPath, newName))
	if dst == fileRef {
		return nil
	}
	return s.rekey(ctx, fileRef, dst)
}

// RenameFolder implements backend.FlatStorage. Every object below the
// folder is re-keyed; the first failure stops the rename.
func (s *Storage) RenameFolder(ctx context.Context, oldPath, newName, user string) (res backend.RenameFolderResult, err error) {
	start := time.Now()
	defer func() { record("rename_folder", start, err) }()

	newPath := tree.ReplaceLeaf(strings.TrimRight(oldPath, models.Separator), newName)
	base := s.prefix(user)
	oldPrefix := base + strings.Join(tree.Segments(oldPath), models.Separator) + "/"
	newPrefix := base + strings.Join(tree.Segments(newPath), models.Separator) + "/"

	objects, err := s.listKeys(ctx, oldPrefix)
	if err != nil {
		return backend.RenameFolderResult{}, fmt.Errorf("list %s: %w", oldPrefix, err)
	}
	if len(objects) == 0 {
		return backend.RenameFolderResult{}, backend.ErrNotFound
	}
	for _, obj := range objects {
		src := aws.ToString(obj.Key)
		if err := s.rekey(ctx, src, newPrefix+strings.TrimPrefix(src, oldPrefix)); err != nil {
			return backend.RenameFolderResult{}, err
		}
	}
	logging.Debug("renamed folder",
		zap.String("old", oldPath), zap.String("new", newPath), zap.Int("objects", len(objects)))
	return backend.RenameFolderResult{Success: true, OldPath: oldPath, NewPath: newPath}, nil
}

// DeleteFile implements backend.FlatStorage.
func (s *Storage) DeleteFile(ctx context.Context, fileRef string) (err error) {
	start := time.Now()
	defer func() { record("delete", start, err) }()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileRef),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", fileRef, err)
	}
	return nil
}

// deleteBatch is the DeleteObjects per-request key limit.
const deleteBatch = 1000

// DeleteFolder implements backend.FlatStorage.
func (s *Storage) DeleteFolder(ctx context.Context, path, user string) (res backend.FolderDeleteResult, err error) {
	start := time.Now()
	defer func() { record("delete_folder", start, err) }()

	prefix := s.prefix(user) + strings.Join(tree.Segments(path), models.Separator) + "/"
	objects, err := s.listKeys(ctx, prefix)
	if err != nil {
		return res, fmt.Errorf("list %s: %w", prefix, err)
	}

	for i := 0; i < len(objects); i += deleteBatch {
		end := i + deleteBatch
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-i)
		for _, obj := range objects[i:end] {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(false)},
		})
		if err != nil {
			res.Failed += len(ids)
			logging.Warn("delete batch failed", zap.String("prefix", prefix), zap.Error(err))
			continue
		}
		res.Deleted += len(out.Deleted)
		res.Failed += len(out.Errors)
	}
	return res, nil
}

// ReadFile implements backend.FlatStorage.
func (s *Storage) ReadFile(ctx context.Context, fileRef string) (data []byte, err error) {
	start := time.Now()
	defer func() { record("get", start, err) }()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileRef),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", fileRef, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Storage) put(ctx context.Context, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// WriteFile implements backend.FlatStorage.
func (s *Storage) WriteFile(ctx context.Context, path string, data []byte) (err error) {
	start := time.Now()
	defer func() { record("put", start, err) }()
	return s.put(ctx, s.key(path), data, "")
}

// Exists implements backend.Verifier.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	var nf *types.NotFound
	if errors.As(err, &nf) {
		record("head", start, nil)
		return false, nil
	}
	record("head", start, err)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", path, err)
	}
	return true, nil
}

// UploadFile implements backend.FlatStorage. displayName is stored as
// object metadata; the key uses file.Name.
func (s *Storage) UploadFile(ctx context.Context, file backend.UploadFile, origin, displayName, folder string) (err error) {
	start := time.Now()
	defer func() { record("upload", start, err) }()

	key := s.key(tree.BuildChildPath(folder, file.Name))
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(file.Data),
		ContentLength: aws.Int64(int64(len(file.Data))),
		Metadata:      map[string]string{"origin": origin},
	}
	if displayName != "" {
		in.Metadata["display-name"] = displayName
	}
	if file.ContentType != "" {
		in.ContentType = aws.String(file.ContentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// UploadFolder implements backend.FlatStorage.
func (s *Storage) UploadFolder(ctx context.Context, files []backend.UploadFile, folderName, origin, parent string) (err error) {
	start := time.Now()
	defer func() { record("upload_folder", start, err) }()

	root := tree.BuildChildPath(parent, folderName)
	if len(files) == 0 {
		return s.put(ctx, s.folderKey(root), nil, "")
	}
	for _, f := range files {
		rel := f.RelPath
		if rel == "" {
			rel = f.Name
		}
		if err := s.put(ctx, s.key(tree.BuildChildPath(root, rel)), f.Data, f.ContentType); err != nil {
			return err
		}
	}
	return nil
}
