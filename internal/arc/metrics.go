package arc

// Metrics receives block lifecycle events.
type Metrics interface {
	BlockStored(bytes int64)
	BlockDeduplicated()
	BlockReclaimed()
	LedgerUpdated()
	BlockMissing()
	BlockFailed()
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) BlockStored(int64)  {}
func (NopMetrics) BlockDeduplicated() {}
func (NopMetrics) BlockReclaimed()    {}
func (NopMetrics) LedgerUpdated()     {}
func (NopMetrics) BlockMissing()      {}
func (NopMetrics) BlockFailed()       {}
