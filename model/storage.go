package model

import "time"

// RawAPIResponseRecord is one optionally-persisted outbound API call,
// captured by the Unified API Client and handed to the Storage Policy
// Engine for a store/skip decision. Once written to the store, it is
// immutable; deletion happens only via the TTL and Archival engines.
type RawAPIResponseRecord struct {
	ID                string
	Provider          string
	Endpoint          string
	RequestURL        string
	Params            OpaqueBag
	Response          OpaqueBag
	ResponseSizeBytes int64
	StatusCode        int
	ExecutionTimeMs   float64
	CreatedAt         time.Time

	// StorageMetadata is populated by the Storage Policy Engine's decide()
	// when the record is accepted: ttl_days and priority.
	StorageMetadata OpaqueBag

	// Archived marks a record whose payload has been moved to cold storage.
	Archived   bool
	ArchivedAt *time.Time
}

// StoragePriority is the three-level priority used by the async storage
// queue and the TTL/Archival candidate ranking.
type StoragePriority int

const (
	PriorityHigh   StoragePriority = 1
	PriorityMedium StoragePriority = 2
	PriorityLow    StoragePriority = 3
)

// StoragePolicyRule is the per-(provider, endpoint) configuration the
// Storage Policy Engine resolves against.
type StoragePolicyRule struct {
	Provider           string
	Endpoint           string
	Enabled            bool
	MinSizeBytes       int64
	MaxSizeBytes       int64
	AllowedStatusCodes []int
	Priority           StoragePriority
	TTLDays            int
}

// IsDefaultRule reports whether this rule is the provider-wide default
// (Endpoint == "") used as a fallback when no exact-match rule exists.
func (r *StoragePolicyRule) IsDefaultRule() bool {
	return r.Endpoint == ""
}
