package models

import "time"

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// OversizedAsset is an asset skipped for one instance because it exceeds
// that instance's size limit. Recorded for UI visibility only.
type OversizedAsset struct {
	Identity string `json:"identity"`
	FileName string `json:"filename"`
	Size     int64  `json:"size"`
}

// FailedItem is a transfer that reached a terminal failure during a run.
type FailedItem struct {
	Identity   string `json:"identity"`
	FileName   string `json:"filename"`
	InstanceID int64  `json:"instanceId"`
	Action     string `json:"action"`
	Error      string `json:"error"`
}

// InstanceProgress tracks one instance's counters within a run.
type InstanceProgress struct {
	InstanceID     int64  `json:"instanceId"`
	Label          string `json:"label"`
	InitialAssets  int    `json:"initialAssets"`
	Missing        int    `json:"missing"`
	Done           int    `json:"done"`
	AlreadyPresent int    `json:"alreadyPresent"`
	Copied         int    `json:"copied"`
	Linked         int    `json:"linked"`
	Failed         int    `json:"failed"`
	Oversized      int    `json:"oversized"`
	Checksumless   int    `json:"checksumless"`
}

// RunProgress is the current/most-recent run record for one group. It is
// written by a single executor and read by pollers as a snapshot.
type RunProgress struct {
	GroupID      int64                      `json:"groupId"`
	RunID        string                     `json:"runId"`
	Status       RunStatus                  `json:"status"`
	Total        int                        `json:"total"`
	Done         int                        `json:"done"`
	Failed       int                        `json:"failed"`
	TotalAssets  int                        `json:"totalAssets"`
	PerInstance  map[int64]InstanceProgress `json:"perInstance"`
	Oversized    map[int64][]OversizedAsset `json:"oversized"`
	FailedItems  []FailedItem               `json:"failedItems"`
	Error        string                     `json:"error,omitempty"`
	StartedAt    time.Time                  `json:"startedAt"`
	FinishedAt   *time.Time                 `json:"finishedAt,omitempty"`
	ETA          *time.Time                 `json:"eta,omitempty"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (p RunProgress) Clone() RunProgress {
	out := p
	out.PerInstance = make(map[int64]InstanceProgress, len(p.PerInstance))
	for id, ip := range p.PerInstance {
		out.PerInstance[id] = ip
	}
	out.Oversized = make(map[int64][]OversizedAsset, len(p.Oversized))
	for id, list := range p.Oversized {
		out.Oversized[id] = append([]OversizedAsset(nil), list...)
	}
	out.FailedItems = append([]FailedItem(nil), p.FailedItems...)
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		out.FinishedAt = &t
	}
	if p.ETA != nil {
		t := *p.ETA
		out.ETA = &t
	}
	return out
}
