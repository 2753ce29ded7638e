// Package archive mirrors synced assets into an S3-compatible bucket, so a
// group can keep one copy outside any member server. Failures here never
// affect sync results.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chmdznr/immich-album-sync/internal/config"
)

// Uploader writes asset bytes to the configured bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates an uploader for the archive bucket.
func New(cfg config.ArchiveConfig) (*Uploader, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Transport:    tr,
		Region:       "auto",
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize archive client: %v", err)
	}

	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads one asset keyed by identity. Re-storing the same identity
// overwrites the same object, so retried items stay idempotent.
func (u *Uploader) Store(ctx context.Context, identity, filename string, content []byte) error {
	key := path.Join(u.prefix, identity)
	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{
			UserMetadata: map[string]string{
				"original-filename": filename,
			},
		})
	if err != nil {
		return fmt.Errorf("archive %s: %v", identity, err)
	}
	return nil
}
