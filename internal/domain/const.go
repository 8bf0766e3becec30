package domain

// Echo context keys and headers carrying the requester identity established
// by the auth middleware.
const (
	RequesterKeyCtxKey    = "ldx-requesterKey"
	RequesterHandleCtxKey = "ldx-requesterHandle"

	RequesterKeyHeader = "ldx-requester-key"
)

// InclusionMode selects how the record-type inclusion policy treats incoming
// record types. Delete messages always bypass the policy.
type InclusionMode int

const (
	IncludeAll InclusionMode = iota
	IncludeWhitelist
	IncludeBlacklist
)

// ParseInclusionMode maps a config string onto an InclusionMode, defaulting
// to allow-all.
func ParseInclusionMode(s string) InclusionMode {
	switch s {
	case "whitelist":
		return IncludeWhitelist
	case "blacklist":
		return IncludeBlacklist
	default:
		return IncludeAll
	}
}

// SyncState is the scheduler's position in its per-cycle state machine.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncScanning
	SyncDecoding
	SyncIndexing
)

func (s SyncState) String() string {
	switch s {
	case SyncScanning:
		return "scanning"
	case SyncDecoding:
		return "decoding"
	case SyncIndexing:
		return "indexing"
	default:
		return "idle"
	}
}
