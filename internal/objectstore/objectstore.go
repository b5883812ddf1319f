// Package objectstore mirrors captured snippet output into an S3-compatible
// bucket, one object per snippet.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/p-arndt/snippetd/internal/config"
)

// Putter is the part of the MinIO client the sink uses.
type Putter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Sink overwrites {prefix}{id}.txt with the cumulative output on every write.
type Sink struct {
	client Putter
	bucket string
	prefix string
}

func NewSink(client Putter, bucket, prefix string) *Sink {
	return &Sink{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName is the key the output of id is stored under.
func (s *Sink) ObjectName(id string) string {
	return s.prefix + id + ".txt"
}

func (s *Sink) AppendOutput(ctx context.Context, id, output string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectName(id), strings.NewReader(output), int64(len(output)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.ObjectName(id), err)
	}
	return nil
}

// NewClient connects to the configured endpoint.
func NewClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the bucket if it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
