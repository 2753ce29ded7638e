package models

// TransferAction says how a missing asset reaches a target instance.
type TransferAction int

const (
	// ActionCopy downloads the asset from a donor and uploads it to the target.
	ActionCopy TransferAction = iota
	// ActionLink adds an asset the target server already holds to the album.
	ActionLink
	// ActionSkipOversized records the asset as too large for the target.
	ActionSkipOversized
)

func (a TransferAction) String() string {
	switch a {
	case ActionCopy:
		return "copy"
	case ActionLink:
		return "link"
	case ActionSkipOversized:
		return "skip-oversized"
	default:
		return "unknown"
	}
}

// TransferItem is one planned transfer, consumed exactly once by the executor.
type TransferItem struct {
	Identity      string
	Checksum      string
	FileName      string
	Size          int64
	TargetID      int64
	Action        TransferAction
	DonorID       int64  // copy only
	DonorRemoteID string // copy only: asset id on the donor server
	LinkRemoteID  string // link only: existing asset id on the target server

	// Metadata carried from the donor's listing so uploads preserve it.
	DeviceAssetID  string
	DeviceID       string
	FileCreatedAt  string
	FileModifiedAt string
}
