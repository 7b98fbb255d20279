package domain

// ProgressSink receives pipeline checkpoints. Implementations must not block.
type ProgressSink interface {
	Report(p JobProgress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(p JobProgress)

// Report calls f(p).
func (f ProgressFunc) Report(p JobProgress) {
	if f != nil {
		f(p)
	}
}

// NopProgress discards every checkpoint.
var NopProgress ProgressSink = ProgressFunc(nil)
