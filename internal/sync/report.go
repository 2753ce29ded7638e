package sync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chmdznr/immich-album-sync/pkg/models"
	"github.com/chmdznr/immich-album-sync/pkg/utils"
)

// Report renders a run summary for the one-shot CLI.
func Report(run models.RunProgress) string {
	var b strings.Builder
	copied, linked := 0, 0
	for _, ip := range run.PerInstance {
		copied += ip.Copied
		linked += ip.Linked
	}
	fmt.Fprintf(&b, "Total unique assets seen: %d\n", run.TotalAssets)
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "Elapsed: %s\n", utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}
	fmt.Fprintf(&b, "Copied: %d\n", copied)
	fmt.Fprintf(&b, "Linked existing assets: %d\n", linked)

	ids := make([]int64, 0, len(run.PerInstance))
	for id := range run.PerInstance {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	checksumless := false
	for _, id := range ids {
		if run.PerInstance[id].Checksumless > 0 {
			checksumless = true
		}
	}
	if checksumless {
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			if ip := run.PerInstance[id]; ip.Checksumless > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", ip.Label, ip.Checksumless))
			}
		}
		fmt.Fprintf(&b, "Assets without checksum (weak identity): %s\n", strings.Join(parts, ", "))
	}

	if len(run.Oversized) > 0 {
		b.WriteString("Oversized assets skipped:\n")
		for _, id := range ids {
			entries := run.Oversized[id]
			if len(entries) == 0 {
				continue
			}
			fmt.Fprintf(&b, "  %s: %d\n", run.PerInstance[id].Label, len(entries))
			for _, entry := range entries {
				fmt.Fprintf(&b, "    - %s (%s)\n", entry.FileName, utils.FormatSize(entry.Size))
			}
		}
	}

	if len(run.FailedItems) > 0 {
		b.WriteString("Failed items:\n")
		for _, item := range run.FailedItems {
			fmt.Fprintf(&b, "  - %s -> instance %d (%s): %s\n", item.FileName, item.InstanceID, item.Action, item.Error)
		}
	}

	b.WriteString("Per-server stats:\n")
	for _, id := range ids {
		ip := run.PerInstance[id]
		fmt.Fprintf(&b, "  %s: had %d, missing %d, copied %d, linked %d, failed %d, oversized %d\n",
			ip.Label, ip.InitialAssets, ip.Missing, ip.Copied, ip.Linked, ip.Failed, ip.Oversized)
	}
	return b.String()
}
