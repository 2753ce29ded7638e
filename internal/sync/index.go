package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/chmdznr/immich-album-sync/internal/immich"
	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// AssetRecord is one unique asset and the set of instances holding it.
type AssetRecord struct {
	Identity string
	Checksum string
	FileName string
	Size     int64
	// Holders maps instance id to the asset as listed on that instance.
	Holders map[int64]immich.Asset
}

// HolderIDs returns the holder instance ids in ascending order.
func (r *AssetRecord) HolderIDs() []int64 {
	ids := make([]int64, 0, len(r.Holders))
	for id := range r.Holders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Index maps asset identity to holders for one run. Rebuilt every run;
// remote state can change between runs so nothing here is persisted.
type Index struct {
	Assets map[string]*AssetRecord
	// Checksumless counts assets per instance that exposed no checksum and
	// fell back to the weaker filename+size identity (or had neither).
	Checksumless map[int64]int
	// Listed counts the raw album entries per instance.
	Listed map[int64]int
}

// Identities returns all identities in ascending order, for reproducible plans.
func (idx *Index) Identities() []string {
	ids := make([]string, 0, len(idx.Assets))
	for id := range idx.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Held counts the unique identities an instance already holds.
func (idx *Index) Held(instanceID int64) int {
	n := 0
	for _, rec := range idx.Assets {
		if _, ok := rec.Holders[instanceID]; ok {
			n++
		}
	}
	return n
}

// identityFor derives the equality key for an asset: content checksum when
// the server exposes one, otherwise filename+size. The fallback can treat
// two identical files with different names as distinct, which only costs an
// extra copy; it never merges different files. Assets with neither checksum
// nor filename are unidentifiable and return "".
func identityFor(a immich.Asset) string {
	if a.Checksum != "" {
		return a.Checksum
	}
	if a.FileName == "" {
		return ""
	}
	return fmt.Sprintf("file:%s:%d", a.FileName, a.Size)
}

// BuildIndex lists every instance's album concurrently (one outstanding
// list per instance) and merges the results by identity. Any listing
// failure is a run-level fault: planning against a partial index would
// schedule copies toward instances whose holdings are unknown.
func BuildIndex(ctx context.Context, instances []models.Instance, clients map[int64]Client) (*Index, error) {
	type listResult struct {
		instanceID int64
		assets     []immich.Asset
		err        error
	}

	results := make(chan listResult, len(instances))
	var wg gosync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst models.Instance) {
			defer wg.Done()
			assets, err := clients[inst.ID].ListAlbumAssets(ctx, inst.AlbumID)
			results <- listResult{instanceID: inst.ID, assets: assets, err: err}
		}(inst)
	}
	wg.Wait()
	close(results)

	idx := &Index{
		Assets:       make(map[string]*AssetRecord),
		Checksumless: make(map[int64]int),
		Listed:       make(map[int64]int),
	}
	for res := range results {
		if res.err != nil {
			return nil, fmt.Errorf("list album assets on instance %d: %w", res.instanceID, res.err)
		}
		idx.Listed[res.instanceID] = len(res.assets)
		for _, asset := range res.assets {
			if asset.Checksum == "" {
				idx.Checksumless[res.instanceID]++
			}
			identity := identityFor(asset)
			if identity == "" {
				continue
			}
			rec, ok := idx.Assets[identity]
			if !ok {
				rec = &AssetRecord{
					Identity: identity,
					Checksum: asset.Checksum,
					FileName: asset.FileName,
					Size:     asset.Size,
					Holders:  make(map[int64]immich.Asset),
				}
				idx.Assets[identity] = rec
			}
			if _, seen := rec.Holders[res.instanceID]; !seen {
				rec.Holders[res.instanceID] = asset
			}
			if rec.Size == 0 && asset.Size > 0 {
				rec.Size = asset.Size
			}
		}
	}
	return idx, nil
}
