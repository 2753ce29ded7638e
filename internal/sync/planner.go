package sync

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// Plan is the full set of decisions for one run. Items are the transfers
// the executor carries out; Oversized are recorded for visibility and never
// attempted, so they do not count toward the run total.
type Plan struct {
	Items     []models.TransferItem
	Oversized []models.TransferItem
}

// BuildPlan decides, for every (asset, instance) pair where the instance
// lacks the asset, whether to copy from a donor, link an asset the target
// server already holds outside the album, or skip it as oversized.
//
// The bulk-upload-check probe backs link detection; when a server does not
// support it (or the probe fails) the asset is treated as not present and
// copied, which is safe but less efficient. Donor choice is the holder with
// the lowest instance id so plans are reproducible.
func BuildPlan(ctx context.Context, idx *Index, instances []models.Instance, clients map[int64]Client, log zerolog.Logger) Plan {
	sorted := make([]models.Instance, len(instances))
	copy(sorted, instances)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var plan Plan
	for _, identity := range idx.Identities() {
		rec := idx.Assets[identity]
		holders := rec.HolderIDs()
		if len(holders) == 0 {
			continue
		}
		for _, target := range sorted {
			if _, has := rec.Holders[target.ID]; has {
				continue
			}
			item := models.TransferItem{
				Identity: identity,
				FileName: rec.FileName,
				Size:     rec.Size,
				TargetID: target.ID,
			}

			if target.SizeLimitBytes > 0 && rec.Size > target.SizeLimitBytes {
				item.Action = models.ActionSkipOversized
				plan.Oversized = append(plan.Oversized, item)
				continue
			}

			if rec.Checksum != "" {
				existingID, err := clients[target.ID].BulkUploadCheck(ctx, rec.Checksum)
				if err != nil {
					log.Debug().Err(err).
						Int64("instance", target.ID).
						Str("identity", identity).
						Msg("bulk-upload-check unavailable, falling back to copy")
				} else if existingID != "" {
					item.Action = models.ActionLink
					item.LinkRemoteID = existingID
					plan.Items = append(plan.Items, item)
					continue
				}
			}

			donorID := holders[0]
			donor := rec.Holders[donorID]
			item.Action = models.ActionCopy
			item.DonorID = donorID
			item.DonorRemoteID = donor.RemoteID
			item.Checksum = rec.Checksum
			item.DeviceAssetID = donor.DeviceAssetID
			item.DeviceID = donor.DeviceID
			item.FileCreatedAt = donor.FileCreatedAt
			item.FileModifiedAt = donor.FileModifiedAt
			plan.Items = append(plan.Items, item)
		}
	}
	return plan
}
