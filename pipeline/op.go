package pipeline

import "sync/atomic"

// Operation is one unit of work submitted on a call. Fields a filter does
// not understand must be forwarded unchanged.
type Operation struct {
	// SendMessage is the outbound message payload. Nil when the op sends
	// nothing; an empty non-nil slice is a zero-length message.
	SendMessage []byte

	// RecvMessage, when non-nil, is the slot where the transport stores
	// the next inbound message before firing RecvReady.
	RecvMessage *[]byte

	// RecvReady is the continuation to invoke once the inbound message is
	// available (or its delivery failed). Filters may substitute their own
	// completion here, saving the original.
	RecvReady *Completion

	// Cancel, when non-nil, aborts the call with the given reason. The
	// transport fires any pending receive completion with it.
	Cancel error
}

// Completion is a one-shot continuation. It may be run from any goroutine,
// but only once: a second Run panics, turning a double-notification bug
// into a loud failure instead of silent state corruption.
type Completion struct {
	fn   func(error)
	done atomic.Bool
}

// NewCompletion wraps fn as a one-shot continuation.
func NewCompletion(fn func(error)) *Completion {
	if fn == nil {
		panic("pipeline: nil completion func")
	}
	return &Completion{fn: fn}
}

// Run delivers the result. Exactly one Run call is allowed per Completion.
func (c *Completion) Run(err error) {
	if c.done.Swap(true) {
		panic("pipeline: completion invoked twice")
	}
	c.fn(err)
}
