package interfaces

// -----------------------------------------------------------------------------
// IMetricsSink receives fire-and-forget counter updates.
// -----------------------------------------------------------------------------

type IMetricsSink interface {
	Increment(name string)
	Decrement(name string)
}
