package bridge

import "sync"

// FetchResult is the background-fetch outcome the OS expects after a remote
// notification has been handled.
type FetchResult int

const (
	// FetchNewData signals that the handler downloaded new content.
	FetchNewData FetchResult = iota
	// FetchNoData signals that there was nothing to download.
	FetchNoData
	// FetchFailed signals that the download attempt failed.
	FetchFailed
)

func (r FetchResult) String() string {
	switch r {
	case FetchNewData:
		return "new_data"
	case FetchNoData:
		return "no_data"
	case FetchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Completion is the single-shot handle for the OS fetch callback. The OS
// penalizes a process that never answers and the behavior of answering twice
// is undefined, so the raw callback is never exposed: every path goes through
// Resolve, which fires at most once.
type Completion struct {
	once sync.Once
	fn   func(FetchResult)
	done chan FetchResult
}

// NewCompletion wraps the raw OS callback. fn may be nil, which is useful
// when testing Receiver implementations.
func NewCompletion(fn func(FetchResult)) *Completion {
	return &Completion{
		fn:   fn,
		done: make(chan FetchResult, 1),
	}
}

// Resolve delivers the result to the OS callback and reports whether this
// call was the one that fired it. Later calls are no-ops returning false.
func (c *Completion) Resolve(result FetchResult) bool {
	fired := false
	c.once.Do(func() {
		if c.fn != nil {
			c.fn(result)
		}
		c.done <- result
		fired = true
	})
	return fired
}

// Done yields the final result once it has been resolved. The channel carries
// a single value; only one receiver will observe it.
func (c *Completion) Done() <-chan FetchResult {
	return c.done
}
