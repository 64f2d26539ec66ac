// Package pipeline defines a composable per-call filter stack for an RPC
// channel. A channel is built once from an ordered sequence of filters; each
// call derives its own element chain from the channel; operations submitted
// on a call propagate top-to-bottom through the chain, and completion
// notifications propagate bottom-to-top, asynchronously, as the transport
// produces results.
//
// Filter state is split in two levels. Channel-level state is built once at
// channel construction, is immutable afterwards, and is read concurrently by
// every call on the channel without locking. Call-level state is private to
// one call and lives exactly as long as the call does.
package pipeline

import (
	"fmt"

	"github.com/starius/msglimit/serviceconfig"
)

// ChannelConfig is the typed channel configuration consumed by filters at
// channel construction. All fields are optional.
type ChannelConfig struct {
	// MaxSendMessageLength caps outbound message sizes in bytes.
	// Nil means unlimited.
	MaxSendMessageLength *int

	// MaxReceiveMessageLength caps inbound message sizes in bytes.
	// Nil means the consuming filter's default.
	MaxReceiveMessageLength *int

	// ServiceConfig carries per-method policy produced by an external
	// parser. Opaque to the pipeline itself.
	ServiceConfig *serviceconfig.Config
}

// ChannelArgs is passed to each filter when the channel is constructed.
type ChannelArgs struct {
	Config ChannelConfig

	// IsLast reports whether the filter is the terminal element of the
	// channel's filter sequence. Filters that always forward to a next
	// stage must refuse this position.
	IsLast bool
}

// Filter is one stage of a channel's filter sequence.
type Filter interface {
	// Name identifies the filter in configuration errors.
	Name() string

	// NewChannel builds the filter's channel-level state. Called exactly
	// once per channel, before any call is accepted. A non-nil error is
	// fatal to channel construction.
	NewChannel(args ChannelArgs) (FilterChannel, error)
}

// FilterChannel is a filter's per-channel state. Implementations must be
// immutable after NewChannel returns: NewCall is invoked concurrently from
// arbitrarily many calls with no synchronization.
type FilterChannel interface {
	// NewCall builds the filter's call-level state for a call to
	// methodPath. It cannot fail.
	NewCall(methodPath string) FilterCall

	// Close releases channel-level resources. Called exactly once, after
	// all calls on the channel have finished.
	Close()
}

// FilterCall is a filter's per-call state. It is owned by a single call and
// never shared between calls.
type FilterCall interface {
	// HandleOp inspects op and may rewire its completion before the op
	// continues to the next element. Returning a non-nil error terminates
	// the call with that status; the op is not forwarded further. A filter
	// that substitutes its own completion for op.RecvReady must invoke the
	// original exactly once on every path, and must leave every other
	// field of op unchanged.
	HandleOp(op *Operation) error

	// Close releases call-level state after the call has finished. It must
	// not be called while a receive completion substituted by this filter
	// is still pending.
	Close()
}

// ConfigError reports that a filter rejected its position or configuration
// during channel construction.
type ConfigError struct {
	Filter string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Filter, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
