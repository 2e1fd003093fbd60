package partialmap

// Config holds the tunables/§7. Zero values are invalid;
// always start from DefaultConfig.
type Config struct {
	// Order is the B-tree fan-out bound O (exclusive). Must be >= 2.
	Order int
	// CacheSizeHint bounds SequencedState's resident entry count plus the
	// tree's working set before eviction kicks in.
	CacheSizeHint int
	// FlushThreshold is the unflushed-change-count above which a leader
	// starts a flush.
	FlushThreshold int
}

// DefaultConfig returns a reasonable set of tunable defaults.
func DefaultConfig() Config {
	return Config{
		Order:          32,
		CacheSizeHint:  5000,
		FlushThreshold: 1000,
	}
}

// Validate reports ErrInvalidOrder if the configured order is unusable.
func (c Config) Validate() error {
	if c.Order < 2 {
		return WithStack(ErrInvalidOrder)
	}
	return nil
}
