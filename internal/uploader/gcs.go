package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"quill/internal/config"
	"quill/internal/util"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSUploader uploads case directories to Google Cloud Storage.
type GCSUploader struct {
	cfg    config.GCSConfig
	client *storage.Client
}

// NewGCS constructs an uploader from GCS configuration.
func NewGCS(cfg config.GCSConfig) (*GCSUploader, error) {
	if !cfg.Enabled {
		return &GCSUploader{cfg: cfg}, nil
	}
	var opts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create gcs client")
	}
	return &GCSUploader{cfg: cfg, client: client}, nil
}

// Enabled implements Uploader.
func (u *GCSUploader) Enabled() bool {
	return u.cfg.Enabled
}

// UploadDir implements Uploader.
func (u *GCSUploader) UploadDir(ctx context.Context, dir string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("gcs uploader is not initialized")
	}
	objects, root, err := listObjects(dir, u.cfg.Prefix)
	if err != nil {
		return "", err
	}
	if err := uploadAll(ctx, objects, u.put); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", u.cfg.Bucket, root), nil
}

// UploadFile implements Uploader.
func (u *GCSUploader) UploadFile(ctx context.Context, path, name string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("gcs uploader is not initialized")
	}
	key := joinKey(u.cfg.Prefix, name)
	if err := u.put(ctx, object{path: path, key: key}); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", u.cfg.Bucket, key), nil
}

func (u *GCSUploader) put(ctx context.Context, obj object) error {
	file, err := os.Open(obj.path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "gcs upload file")

	writer := u.client.Bucket(u.cfg.Bucket).Object(obj.key).NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "write gs://%s/%s", u.cfg.Bucket, obj.key)
	}
	return errors.Wrapf(writer.Close(), "close gs://%s/%s", u.cfg.Bucket, obj.key)
}
