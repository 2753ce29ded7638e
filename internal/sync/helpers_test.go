package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	gosync "sync"

	"github.com/rs/zerolog"

	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// fakeClient simulates one server: an album listing, downloadable content
// and a library of assets held outside the album for link detection.
type fakeClient struct {
	mu gosync.Mutex

	assets  []immich.Asset
	listErr error
	// listGate, when set, blocks ListAlbumAssets until closed.
	listGate chan struct{}

	content map[string][]byte // remote id -> bytes served on download

	// existing maps checksum -> remote id for assets the server holds
	// outside the album.
	existing map[string]string
	bulkErr  error

	// uploadFailures errors are consumed one per UploadAsset call before
	// uploads start succeeding.
	uploadFailures []error
	addFailures    []error

	uploads []immich.UploadRequest
	added   [][]string
	nextID  int
}

func newFakeClient(assets ...immich.Asset) *fakeClient {
	fc := &fakeClient{
		assets:   assets,
		content:  make(map[string][]byte),
		existing: make(map[string]string),
	}
	for _, a := range assets {
		fc.content[a.RemoteID] = bytes.Repeat([]byte("x"), int(a.Size))
	}
	return fc
}

func (f *fakeClient) ListAlbumAssets(ctx context.Context, albumID string) ([]immich.Asset, error) {
	f.mu.Lock()
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]immich.Asset(nil), f.assets...), nil
}

func (f *fakeClient) DownloadAsset(ctx context.Context, remoteID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.content[remoteID]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", remoteID, immich.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *fakeClient) UploadAsset(ctx context.Context, up immich.UploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploadFailures) > 0 {
		err := f.uploadFailures[0]
		f.uploadFailures = f.uploadFailures[1:]
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("new-%d", f.nextID)
	f.uploads = append(f.uploads, up)
	f.content[id] = up.Content
	return id, nil
}

func (f *fakeClient) AddToAlbum(ctx context.Context, albumID string, remoteIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.addFailures) > 0 {
		err := f.addFailures[0]
		f.addFailures = f.addFailures[1:]
		return err
	}
	f.added = append(f.added, remoteIDs)
	return nil
}

func (f *fakeClient) BulkUploadCheck(ctx context.Context, checksum string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return "", f.bulkErr
	}
	return f.existing[checksum], nil
}

func (f *fakeClient) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakeClient) addedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, batch := range f.added {
		out = append(out, batch...)
	}
	return out
}

func testInstances(limits ...int64) []models.Instance {
	out := make([]models.Instance, 0, len(limits))
	for i, limit := range limits {
		out = append(out, models.Instance{
			ID:             int64(i + 1),
			Label:          fmt.Sprintf("server-%d", i+1),
			AlbumID:        fmt.Sprintf("album-%d", i+1),
			SizeLimitBytes: limit,
			Active:         true,
		})
	}
	return out
}

func clientMap(fakes ...*fakeClient) map[int64]Client {
	out := make(map[int64]Client, len(fakes))
	for i, fc := range fakes {
		out[int64(i+1)] = fc
	}
	return out
}

func factoryFor(fakes ...*fakeClient) ClientFactory {
	clients := clientMap(fakes...)
	return func(inst models.Instance) Client {
		return clients[inst.ID]
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func fastConfig() Config {
	return Config{
		Executor: ExecutorConfig{
			WorkersPerInstance:   2,
			MaxAttempts:          5,
			RetryInitialInterval: 1,
			RetryMaxInterval:     2,
		},
	}
}
