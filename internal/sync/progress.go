package sync

import (
	gosync "sync"
	"time"

	"github.com/chmdznr/immich-album-sync/pkg/models"
)

// Store holds the current/most-recent run record per group. Each record is
// mutated by exactly one executor at a time (run exclusivity) and read by
// any number of concurrent pollers through snapshot copies.
type Store struct {
	mu   gosync.RWMutex
	runs map[int64]*models.RunProgress
}

// NewStore creates an empty progress store.
func NewStore() *Store {
	return &Store{runs: make(map[int64]*models.RunProgress)}
}

// Snapshot returns a deep copy of the group's run record. Groups that have
// never run report an idle record.
func (s *Store) Snapshot(groupID int64) models.RunProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[groupID]
	if !ok {
		return models.RunProgress{
			GroupID:     groupID,
			Status:      models.RunIdle,
			PerInstance: map[int64]models.InstanceProgress{},
			Oversized:   map[int64][]models.OversizedAsset{},
		}
	}
	return run.Clone()
}

// begin replaces the group's record wholesale; leftover counters from a
// previous run are never merged.
func (s *Store) begin(run *models.RunProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.GroupID] = run
}

// update applies fn to the group's live record under the write lock.
func (s *Store) update(groupID int64, fn func(run *models.RunProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[groupID]; ok {
		fn(run)
	}
}

func (s *Store) itemDone(groupID, instanceID int64, action models.TransferAction) {
	s.update(groupID, func(run *models.RunProgress) {
		run.Done++
		ip := run.PerInstance[instanceID]
		ip.Done++
		switch action {
		case models.ActionCopy:
			ip.Copied++
		case models.ActionLink:
			ip.Linked++
		}
		run.PerInstance[instanceID] = ip
		updateETA(run)
	})
}

func (s *Store) itemFailed(groupID int64, item models.TransferItem, err error) {
	s.update(groupID, func(run *models.RunProgress) {
		run.Done++
		run.Failed++
		ip := run.PerInstance[item.TargetID]
		ip.Done++
		ip.Failed++
		run.PerInstance[item.TargetID] = ip
		run.FailedItems = append(run.FailedItems, models.FailedItem{
			Identity:   item.Identity,
			FileName:   item.FileName,
			InstanceID: item.TargetID,
			Action:     item.Action.String(),
			Error:      err.Error(),
		})
		updateETA(run)
	})
}

// itemOversized records an asset that turned out oversized only once its
// true size was known, after the plan was built. It is terminal for the
// item but not a failure.
func (s *Store) itemOversized(groupID int64, item models.TransferItem, size int64) {
	s.update(groupID, func(run *models.RunProgress) {
		run.Done++
		ip := run.PerInstance[item.TargetID]
		ip.Done++
		ip.Oversized++
		run.PerInstance[item.TargetID] = ip
		run.Oversized[item.TargetID] = append(run.Oversized[item.TargetID], models.OversizedAsset{
			Identity: item.Identity,
			FileName: item.FileName,
			Size:     size,
		})
		updateETA(run)
	})
}

func (s *Store) finish(groupID int64, status models.RunStatus, runErr error) {
	s.update(groupID, func(run *models.RunProgress) {
		run.Status = status
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.ETA = nil
		if runErr != nil {
			run.Error = runErr.Error()
		}
	})
}

func updateETA(run *models.RunProgress) {
	if run.Done == 0 || run.Total == 0 || run.Done >= run.Total {
		run.ETA = nil
		return
	}
	elapsed := time.Since(run.StartedAt)
	remaining := time.Duration(float64(elapsed) / float64(run.Done) * float64(run.Total-run.Done))
	eta := time.Now().UTC().Add(remaining)
	run.ETA = &eta
}
