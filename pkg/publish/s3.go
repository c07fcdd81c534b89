// Package publish uploads saved images and the result manifest to an S3
// compatible bucket after a run.
package publish

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"

	"unsplashdl/pkg/config"
	"unsplashdl/pkg/logger"
	"unsplashdl/pkg/models"
)

// ObjectPutter is the part of the S3 client the uploader needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies files from the local filesystem to a bucket
type Uploader struct {
	client ObjectPutter
	fs     afero.Fs
	bucket string
	prefix string
	logger logger.Logger
}

// Report lists what an upload pass did
type Report struct {
	Uploaded int
	Bytes    int64
	Failed   []string
}

// NewS3Client builds an S3 client from the publish config
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	optFns = append(optFns, awsconfig.WithHTTPClient(&http.Client{
		Timeout: 2 * time.Minute,
	}))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewUploader creates an uploader for bucket under prefix
func NewUploader(client ObjectPutter, fs afero.Fs, cfg config.S3Config, log logger.Logger) *Uploader {
	return &Uploader{
		client: client,
		fs:     fs,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.WithField("component", "publisher"),
	}
}

// Key returns the object key for a local file name
func (u *Uploader) Key(name string) string {
	return path.Join(u.prefix, filepath.Base(name))
}

// PublishResults uploads every newly downloaded file. Skipped and failed
// entries are left alone. A failed upload is recorded and does not stop the pass.
func (u *Uploader) PublishResults(ctx context.Context, results []models.DownloadResult) (Report, error) {
	var report Report

	for _, r := range results {
		if !r.Success || r.Skipped || r.DryRun {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		meta := map[string]string{
			"entry-id": r.ID,
			"author":   r.Metadata.Author,
		}
		if r.Metadata.Width != nil {
			meta["original-width"] = strconv.Itoa(*r.Metadata.Width)
		}

		size, err := u.PutFile(ctx, r.Path, meta)
		if err != nil {
			u.logger.WithError(err).WarnWithFields("upload failed", map[string]interface{}{
				"entry_id": r.ID,
				"path":     r.Path,
			})
			report.Failed = append(report.Failed, r.ID)
			continue
		}
		report.Uploaded++
		report.Bytes += size
	}

	u.logger.InfoWithFields("publish finished", map[string]interface{}{
		"bucket":   u.bucket,
		"uploaded": report.Uploaded,
		"failed":   len(report.Failed),
		"bytes":    report.Bytes,
	})
	return report, nil
}

// PutFile uploads one local file and returns its size
func (u *Uploader) PutFile(ctx context.Context, localPath string, meta map[string]string) (int64, error) {
	f, err := u.fs.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.Key(localPath)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata:      meta,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put object: %w", err)
	}

	u.logger.DebugWithFields("object stored", map[string]interface{}{
		"key":         u.Key(localPath),
		"size_bytes":  info.Size(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return info.Size(), nil
}
