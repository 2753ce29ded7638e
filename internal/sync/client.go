package sync

import (
	"context"
	"io"

	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// Client is the capability set the engine needs from one instance's server.
// *immich.Client satisfies it; tests substitute fakes.
type Client interface {
	ListAlbumAssets(ctx context.Context, albumID string) ([]immich.Asset, error)
	DownloadAsset(ctx context.Context, remoteID string) (io.ReadCloser, error)
	UploadAsset(ctx context.Context, up immich.UploadRequest) (string, error)
	AddToAlbum(ctx context.Context, albumID string, remoteIDs []string) error
	BulkUploadCheck(ctx context.Context, checksum string) (string, error)
}

// ClientFactory builds a client for one instance. A run creates every
// client up front so an instance's credential is used by a single run only.
type ClientFactory func(inst models.Instance) Client
