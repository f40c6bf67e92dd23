// Package uploader copies evaluation case directories to object storage.
package uploader

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"quill/internal/config"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// maxParallelFiles bounds concurrent object writes per directory.
const maxParallelFiles = 4

// Uploader publishes case directories and single files.
type Uploader interface {
	Enabled() bool
	// UploadDir uploads every file under dir and returns the remote prefix.
	UploadDir(ctx context.Context, dir string) (string, error)
	// UploadFile uploads one file under name and returns its location.
	UploadFile(ctx context.Context, path, name string) (string, error)
}

// NoopUploader discards uploads.
type NoopUploader struct{}

// Enabled implements Uploader.
func (NoopUploader) Enabled() bool {
	return false
}

// UploadDir implements Uploader.
func (NoopUploader) UploadDir(context.Context, string) (string, error) {
	return "", nil
}

// UploadFile implements Uploader.
func (NoopUploader) UploadFile(context.Context, string, string) (string, error) {
	return "", nil
}

// New builds an uploader for every enabled backend in storage. With no
// backend enabled it returns NoopUploader.
func New(storage config.StorageConfig) (Uploader, error) {
	var backends []Uploader
	if storage.S3.Enabled {
		s3u, err := NewS3(storage.S3)
		if err != nil {
			return nil, errors.Wrap(err, "init s3 uploader")
		}
		backends = append(backends, s3u)
	}
	if storage.GCS.Enabled {
		gcsu, err := NewGCS(storage.GCS)
		if err != nil {
			return nil, errors.Wrap(err, "init gcs uploader")
		}
		backends = append(backends, gcsu)
	}
	switch len(backends) {
	case 0:
		return NoopUploader{}, nil
	case 1:
		return backends[0], nil
	default:
		return Multi(backends), nil
	}
}

// Multi uploads to several backends concurrently. The reported location is
// the first backend's.
type Multi []Uploader

// Enabled implements Uploader.
func (m Multi) Enabled() bool {
	for _, u := range m {
		if u.Enabled() {
			return true
		}
	}
	return false
}

// UploadDir implements Uploader.
func (m Multi) UploadDir(ctx context.Context, dir string) (string, error) {
	return m.fanOut(ctx, func(ctx context.Context, u Uploader) (string, error) {
		return u.UploadDir(ctx, dir)
	})
}

// UploadFile implements Uploader.
func (m Multi) UploadFile(ctx context.Context, path, name string) (string, error) {
	return m.fanOut(ctx, func(ctx context.Context, u Uploader) (string, error) {
		return u.UploadFile(ctx, path, name)
	})
}

func (m Multi) fanOut(ctx context.Context, fn func(context.Context, Uploader) (string, error)) (string, error) {
	locations := make([]string, len(m))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range m {
		if !u.Enabled() {
			continue
		}
		g.Go(func() error {
			loc, err := fn(gctx, u)
			if err != nil {
				return err
			}
			locations[i] = loc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	for _, loc := range locations {
		if loc != "" {
			return loc, nil
		}
	}
	return "", nil
}

// object is one local file and its remote key.
type object struct {
	path string
	key  string
}

// listObjects walks dir and maps every regular file to prefix/<base>/<rel>.
func listObjects(dir, prefix string) ([]object, string, error) {
	base := filepath.Base(dir)
	root := joinKey(prefix, base)
	var out []object
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, object{path: path, key: root + "/" + filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, "", errors.Wrapf(err, "list %s", dir)
	}
	return out, root + "/", nil
}

// uploadAll pushes objects with bounded parallelism.
func uploadAll(ctx context.Context, objects []object, put func(context.Context, object) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for _, obj := range objects {
		g.Go(func() error {
			return put(gctx, obj)
		})
	}
	return g.Wait()
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
