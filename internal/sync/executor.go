package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// ExecutorConfig bounds the executor's concurrency and retry behavior.
type ExecutorConfig struct {
	// WorkersPerInstance is the pool size for each target instance's queue.
	WorkersPerInstance int `koanf:"workers_per_instance"`
	// MaxAttempts caps tries per item for recoverable faults.
	MaxAttempts int `koanf:"max_attempts"`
	// RetryInitialInterval seeds the exponential backoff between attempts.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	// RetryMaxInterval caps the backoff between attempts.
	RetryMaxInterval time.Duration `koanf:"retry_max_interval"`
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.WorkersPerInstance <= 0 {
		c.WorkersPerInstance = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 10 * time.Second
	}
	return c
}

// ArchiveSink receives the bytes of every asset that completes a copy
// transfer. Sink errors are logged, never failing the item.
type ArchiveSink interface {
	Store(ctx context.Context, identity, filename string, content []byte) error
}

// oversizeError marks an asset whose true size, learned only after
// download, exceeds the target's limit. Terminal for the item, not a failure.
type oversizeError struct {
	size int64
}

func (e *oversizeError) Error() string {
	return fmt.Sprintf("asset is %d bytes, over the instance size limit", e.size)
}

type executor struct {
	cfg       ExecutorConfig
	instances map[int64]models.Instance
	clients   map[int64]Client
	store     *Store
	archive   ArchiveSink
	log       zerolog.Logger
}

// run drains the plan. Items are grouped by target instance; each instance
// processes its own queue with a bounded pool, independent of the others,
// so one slow or broken instance never blocks the rest. Every item reaches
// a terminal state before run returns.
func (e *executor) run(ctx context.Context, groupID int64, items []models.TransferItem) {
	byTarget := make(map[int64][]models.TransferItem)
	for _, item := range items {
		byTarget[item.TargetID] = append(byTarget[item.TargetID], item)
	}

	var wg gosync.WaitGroup
	for targetID, queue := range byTarget {
		wg.Add(1)
		go func(targetID int64, queue []models.TransferItem) {
			defer wg.Done()
			workers := e.cfg.WorkersPerInstance
			if workers > len(queue) {
				workers = len(queue)
			}
			jobs := make(chan models.TransferItem)
			var iwg gosync.WaitGroup
			for i := 0; i < workers; i++ {
				iwg.Add(1)
				go func() {
					defer iwg.Done()
					for item := range jobs {
						e.process(ctx, groupID, item)
					}
				}()
			}
			for _, item := range queue {
				jobs <- item
			}
			close(jobs)
			iwg.Wait()
		}(targetID, queue)
	}
	wg.Wait()
}

// process drives one item to a terminal state, retrying recoverable faults
// with exponential backoff up to the attempt cap.
func (e *executor) process(ctx context.Context, groupID int64, item models.TransferItem) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialInterval
	bo.MaxInterval = e.cfg.RetryMaxInterval

	attempt := func() error {
		err := e.attempt(ctx, item)
		if err == nil {
			return nil
		}
		if errors.Is(err, immich.ErrRemoteUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.cfg.MaxAttempts-1)), ctx))

	var oversize *oversizeError
	switch {
	case err == nil:
		e.store.itemDone(groupID, item.TargetID, item.Action)
		e.log.Debug().
			Str("identity", item.Identity).
			Int64("target", item.TargetID).
			Str("action", item.Action.String()).
			Msg("item done")
	case errors.As(err, &oversize):
		e.store.itemOversized(groupID, item, oversize.size)
		e.log.Info().
			Str("identity", item.Identity).
			Int64("target", item.TargetID).
			Int64("size", oversize.size).
			Msg("skipping oversized asset")
	default:
		e.store.itemFailed(groupID, item, err)
		e.log.Warn().Err(err).
			Str("identity", item.Identity).
			Int64("target", item.TargetID).
			Str("action", item.Action.String()).
			Msg("item failed")
	}
}

func (e *executor) attempt(ctx context.Context, item models.TransferItem) error {
	target := e.instances[item.TargetID]
	targetClient := e.clients[item.TargetID]

	switch item.Action {
	case models.ActionLink:
		if err := targetClient.AddToAlbum(ctx, target.AlbumID, []string{item.LinkRemoteID}); err != nil {
			return fmt.Errorf("link existing asset on instance %d: %w", item.TargetID, err)
		}
		return nil

	case models.ActionCopy:
		donorClient := e.clients[item.DonorID]
		body, err := donorClient.DownloadAsset(ctx, item.DonorRemoteID)
		if err != nil {
			return fmt.Errorf("fetch from donor instance %d: %w", item.DonorID, err)
		}
		content, err := io.ReadAll(body)
		_ = body.Close()
		if err != nil {
			return fmt.Errorf("read asset from donor instance %d: %v: %w", item.DonorID, err, immich.ErrRemoteUnavailable)
		}

		// Servers without size metadata report 0; the real size is only
		// known once the bytes are in hand.
		if item.Size == 0 && target.SizeLimitBytes > 0 && int64(len(content)) > target.SizeLimitBytes {
			return &oversizeError{size: int64(len(content))}
		}

		newID, err := targetClient.UploadAsset(ctx, immich.UploadRequest{
			FileName:       item.FileName,
			Content:        content,
			Checksum:       item.Checksum,
			DeviceAssetID:  item.DeviceAssetID,
			DeviceID:       item.DeviceID,
			FileCreatedAt:  item.FileCreatedAt,
			FileModifiedAt: item.FileModifiedAt,
		})
		if err != nil {
			return fmt.Errorf("upload to instance %d: %w", item.TargetID, err)
		}
		if err := targetClient.AddToAlbum(ctx, target.AlbumID, []string{newID}); err != nil {
			return fmt.Errorf("add to album on instance %d: %w", item.TargetID, err)
		}

		if e.archive != nil {
			if err := e.archive.Store(ctx, item.Identity, item.FileName, content); err != nil {
				e.log.Warn().Err(err).Str("identity", item.Identity).Msg("archive store failed")
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown transfer action %d", item.Action)
	}
}
