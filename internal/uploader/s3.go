package uploader

import (
	"context"
	"fmt"
	"os"

	"quill/internal/config"
	"quill/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Uploader uploads case directories to S3-compatible storage.
type S3Uploader struct {
	cfg    config.S3Config
	client *s3.Client
}

// NewS3 constructs an uploader from S3 configuration.
func NewS3(cfg config.S3Config) (*S3Uploader, error) {
	if !cfg.Enabled {
		return &S3Uploader{cfg: cfg}, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Uploader{cfg: cfg, client: client}, nil
}

// Enabled implements Uploader.
func (u *S3Uploader) Enabled() bool {
	return u.cfg.Enabled
}

// UploadDir implements Uploader.
func (u *S3Uploader) UploadDir(ctx context.Context, dir string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("s3 uploader is not initialized")
	}
	objects, root, err := listObjects(dir, u.cfg.Prefix)
	if err != nil {
		return "", err
	}
	if err := uploadAll(ctx, objects, u.put); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, root), nil
}

// UploadFile implements Uploader.
func (u *S3Uploader) UploadFile(ctx context.Context, path, name string) (string, error) {
	if !u.cfg.Enabled {
		return "", nil
	}
	if u.client == nil {
		return "", errors.New("s3 uploader is not initialized")
	}
	key := joinKey(u.cfg.Prefix, name)
	if err := u.put(ctx, object{path: path, key: key}); err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", u.cfg.Bucket, key), nil
}

func (u *S3Uploader) put(ctx context.Context, obj object) error {
	file, err := os.Open(obj.path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(file, "s3 upload file")

	info, err := file.Stat()
	if err != nil {
		return err
	}
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(obj.key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
	})
	return errors.Wrapf(err, "put s3://%s/%s", u.cfg.Bucket, obj.key)
}
