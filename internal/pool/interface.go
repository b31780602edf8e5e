package pool

// Resetter is implemented by pooled values that know how to clear themselves
// before going back into the store.
type Resetter interface {
	Reset()
}

// Stats is a point-in-time view of a pool's counters. Counters are read
// independently and may transiently disagree with Stored.
type Stats struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Stored      int    `json:"stored"`
	Outstanding int64  `json:"outstanding"`
	Created     uint64 `json:"created"`
	Returned    uint64 `json:"returned"`
	Discarded   uint64 `json:"discarded"`
}

// StatsSource exposes pool statistics to the registry and metrics exporters.
type StatsSource interface {
	Stats() Stats
}
