package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Channel is a constructed filter sequence shared by many calls. Its
// filter states are built once and never mutated, so NewCall needs no
// locking.
type Channel struct {
	elems  []FilterChannel
	closed atomic.Bool
}

// NewChannel builds channel-level state for every filter, in order. The
// final filter is told it is the terminal element. If any filter fails, the
// states already built are closed in reverse order and a *ConfigError is
// returned; no call is ever accepted on a partially constructed channel.
func NewChannel(cfg ChannelConfig, filters ...Filter) (*Channel, error) {
	if len(filters) == 0 {
		return nil, errors.New("pipeline: channel needs at least one filter")
	}
	elems := make([]FilterChannel, 0, len(filters))
	for i, f := range filters {
		fc, err := f.NewChannel(ChannelArgs{
			Config: cfg,
			IsLast: i == len(filters)-1,
		})
		if err != nil {
			for j := len(elems) - 1; j >= 0; j-- {
				elems[j].Close()
			}
			return nil, &ConfigError{Filter: f.Name(), Err: err}
		}
		elems = append(elems, fc)
	}
	return &Channel{elems: elems}, nil
}

// NewCall derives a call from the channel for the given full method path.
func (ch *Channel) NewCall(methodPath string) *Call {
	elems := make([]FilterCall, len(ch.elems))
	for i, fc := range ch.elems {
		elems[i] = fc.NewCall(methodPath)
	}
	return &Call{method: methodPath, elems: elems}
}

// Close tears down channel-level filter state, bottom-up. Idempotent. All
// calls must have finished first; their element states borrow from the
// channel's.
func (ch *Channel) Close() {
	if ch.closed.Swap(true) {
		return
	}
	for i := len(ch.elems) - 1; i >= 0; i-- {
		ch.elems[i].Close()
	}
}

// Call is one RPC invocation. Operations are submitted with StartOp; the
// transport at the bottom of the chain fires completions asynchronously on
// goroutines of its choosing.
type Call struct {
	method string
	elems  []FilterCall

	mu       sync.Mutex
	status   error
	finished bool
}

// Method returns the call's full method path.
func (c *Call) Method() string {
	return c.method
}

// StartOp pushes op through the filter sequence top to bottom. If an
// element rejects the op, the call is terminated with that error, any
// receive continuation already present on the op is completed with it
// (preserving the exactly-once guarantee), and the op does not reach later
// elements. StartOp on an already terminated call behaves the same way
// without consulting the elements.
func (c *Call) StartOp(op *Operation) error {
	c.mu.Lock()
	if err := c.status; err != nil {
		c.mu.Unlock()
		if op.RecvReady != nil {
			op.RecvReady.Run(err)
		}
		return err
	}
	c.mu.Unlock()

	for _, e := range c.elems {
		if err := e.HandleOp(op); err != nil {
			c.terminate(err)
			if op.RecvReady != nil {
				op.RecvReady.Run(err)
			}
			return err
		}
	}
	return nil
}

// Cancel aborts the call. The cancellation flows down to the transport as
// an op so that a pending receive completion still fires, exactly once,
// before the call is finished. A nil reason is replaced with a generic
// cancellation status.
func (c *Call) Cancel(reason error) {
	if reason == nil {
		reason = status.Error(codes.Canceled, "call cancelled")
	}
	c.terminate(reason)
	op := &Operation{Cancel: reason}
	for _, e := range c.elems {
		if err := e.HandleOp(op); err != nil {
			// Elements do not reject cancellation; stop forwarding if one does.
			return
		}
	}
}

// Err returns the call's terminal status, or nil while the call is healthy.
func (c *Call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Finish destroys call-level filter state, bottom-up. Must be called once
// per call, after any pending receive has completed (or the call was
// cancelled). Idempotent.
func (c *Call) Finish() {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()
	for i := len(c.elems) - 1; i >= 0; i-- {
		c.elems[i].Close()
	}
}

func (c *Call) terminate(err error) {
	c.mu.Lock()
	if c.status == nil {
		c.status = err
	}
	c.mu.Unlock()
}
