// Package objectstore wraps the S3-compatible object store (MinIO in
// production) the agent downloads assets from and uploads artifacts to.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/config"
)

// chunkSize matches gpuworker/agent/app/minio_client.py's compute_sha256,
// which reads in 1 MiB chunks.
const chunkSize = 1024 * 1024

// Client is a thin, job-engine-facing wrapper around the AWS SDK v2 S3
// client, pointed at a MinIO (or any S3-compatible) endpoint.
type Client struct {
	s3         *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	log        *zap.Logger
}

// New builds a Client from the object-store section of the agent config.
func New(ctx context.Context, cfg config.ObjectStoreConfig, log *zap.Logger) (*Client, error) {
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.Secure {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to load base aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Client{
		s3:         client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		log:        log.Named("objectstore"),
	}, nil
}

// DownloadToPath fetches bucket/key into destination, creating parent
// directories as needed, mirroring MinioManager.download_to_path.
func (c *Client) DownloadToPath(ctx context.Context, bucket, key, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o750); err != nil {
		return fmt.Errorf("objectstore: failed to create parent dir for %s: %w", destination, err)
	}

	c.log.Info("downloading object", zap.String("bucket", bucket), zap.String("key", key), zap.String("destination", destination))

	f, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("objectstore: failed to create %s: %w", destination, err)
	}
	defer f.Close()

	if _, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("objectstore: failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// UploadFile uploads source to bucket/key carrying extraMetadata, filling in
// a sha256 checksum entry if the caller hasn't already computed one.
func (c *Client) UploadFile(ctx context.Context, bucket, key, source string, extraMetadata map[string]string) error {
	c.log.Info("uploading object", zap.String("bucket", bucket), zap.String("key", key), zap.String("source", source))

	metadata := make(map[string]string, len(extraMetadata)+1)
	for k, v := range extraMetadata {
		metadata[k] = v
	}
	if _, ok := metadata["sha256"]; !ok {
		checksum, err := ComputeSHA256(source)
		if err != nil {
			return fmt.Errorf("objectstore: failed to checksum %s: %w", source, err)
		}
		metadata["sha256"] = checksum
	}

	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("objectstore: failed to open %s: %w", source, err)
	}
	defer f.Close()

	if _, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: metadata,
	}); err != nil {
		return fmt.Errorf("objectstore: failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// EnsureObjects heads every (bucket, key) pair, failing fast if any is
// missing — used to pre-flight required assets before materializing them.
func (c *Client) EnsureObjects(ctx context.Context, refs [][2]string) error {
	for _, ref := range refs {
		bucket, key := ref[0], ref[1]
		if _, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("objectstore: object missing: s3://%s/%s: %w", bucket, key, err)
		}
	}
	return nil
}

// GetObjectMetadata returns the lower-cased user metadata for bucket/key, or
// an empty map if the head request fails — metadata is advisory, never
// fatal, matching MinioManager.get_object_metadata.
func (c *Client) GetObjectMetadata(ctx context.Context, bucket, key string) map[string]string {
	resp, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		c.log.Debug("failed to retrieve object metadata", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		return map[string]string{}
	}
	out := make(map[string]string, len(resp.Metadata))
	for k, v := range resp.Metadata {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ComputeSHA256 hashes a file on disk in 1 MiB chunks.
func ComputeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	// Wrapping f hides *os.File's WriteTo, which would otherwise bypass buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
