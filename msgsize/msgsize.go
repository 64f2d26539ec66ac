// Package msgsize implements the message size filter for a pipeline
// channel: it enforces independent caps on outbound and inbound message
// sizes, with channel-level defaults selectively tightened per method by
// service configuration.
//
// The send-side check is synchronous: an oversized outbound message
// terminates the call before the op reaches the next element. The
// receive-side check is asynchronous: the filter substitutes its own
// completion for the caller's receive continuation, and checks the message
// once the transport delivers it.
package msgsize

import (
	"errors"

	"github.com/starius/msglimit/pipeline"
	"github.com/starius/msglimit/serviceconfig"
)

// DefaultMaxRecvSize caps inbound messages when the channel configuration
// does not set one. Matches the 4 MiB ceiling protobuf stacks commonly
// warn at. Outbound messages are unlimited by default.
const DefaultMaxRecvSize = 4 * 1024 * 1024

// Limits holds the effective caps for one call, resolved once at call
// start and immutable afterwards.
type Limits struct {
	MaxSend serviceconfig.SizeCap
	MaxRecv serviceconfig.SizeCap
}

func (l Limits) tighten(ml methodLimits) Limits {
	return Limits{
		MaxSend: l.MaxSend.Tighter(ml.maxSend),
		MaxRecv: l.MaxRecv.Tighter(ml.maxRecv),
	}
}

// ChannelDefaults resolves the channel-level caps from cfg: send unlimited
// unless configured, recv capped at DefaultMaxRecvSize unless configured.
// Configured values are clamped to be non-negative.
func ChannelDefaults(cfg pipeline.ChannelConfig) Limits {
	return Limits{
		MaxSend: clampedCap(cfg.MaxSendMessageLength, serviceconfig.Unlimited()),
		MaxRecv: clampedCap(cfg.MaxReceiveMessageLength, serviceconfig.Limit(DefaultMaxRecvSize)),
	}
}

func clampedCap(v *int, def serviceconfig.SizeCap) serviceconfig.SizeCap {
	if v == nil {
		return def
	}
	n := *v
	if n < 0 {
		n = 0
	}
	return serviceconfig.Limit(n)
}

// Resolve merges channel defaults with the per-method override for
// methodPath, independently per direction. Pure: identical inputs always
// yield identical Limits. An override can only shrink an effective cap; one
// looser than the channel default has no effect.
func Resolve(defaults Limits, sc *serviceconfig.Config, methodPath string) Limits {
	mc, ok := sc.Method(methodPath)
	if !ok {
		return defaults
	}
	return defaults.tighten(methodLimits{
		maxSend: mc.MaxRequestBytes,
		maxRecv: mc.MaxResponseBytes,
	})
}

// Filter returns the message size filter for inclusion in a channel's
// filter sequence. It always forwards to a next stage, so it must not be
// the terminal element.
func Filter() pipeline.Filter {
	return filter{}
}

type filter struct{}

func (filter) Name() string {
	return "message_size"
}

func (filter) NewChannel(args pipeline.ChannelArgs) (pipeline.FilterChannel, error) {
	if args.IsLast {
		return nil, errors.New("cannot be the terminal element of the filter sequence")
	}
	cs := &channelState{defaults: ChannelDefaults(args.Config)}
	if sc := args.Config.ServiceConfig; sc != nil {
		cs.table = newLimitTable(sc)
	}
	return cs, nil
}

// channelState is immutable after construction and read concurrently by
// every call on the channel.
type channelState struct {
	defaults Limits
	table    *limitTable
}

func (cs *channelState) NewCall(methodPath string) pipeline.FilterCall {
	lim := cs.defaults
	if cs.table != nil {
		if ml, ok := cs.table.lookup(methodPath); ok {
			lim = lim.tighten(ml)
		}
	}
	return &callState{limits: lim}
}

func (cs *channelState) Close() {
	if cs.table != nil {
		cs.table.unref()
		cs.table = nil
	}
}

// callState is owned by a single call. pending and recvSlot are written on
// the op submission path and consumed on the transport's completion path;
// the handoff of the op through the chain orders the two, so no lock is
// needed.
type callState struct {
	limits Limits

	// pending is the caller's receive continuation, saved while ours is
	// registered with the transport in its place. Invoked exactly once,
	// then cleared.
	pending  *pipeline.Completion
	recvSlot *[]byte
}

func (cs *callState) HandleOp(op *pipeline.Operation) error {
	if op.SendMessage != nil {
		if n := len(op.SendMessage); !cs.limits.MaxSend.Allows(n) {
			limit, _ := cs.limits.MaxSend.Get()
			return &SizeError{Direction: Send, Actual: n, Limit: limit}
		}
	}
	if op.RecvReady != nil {
		cs.pending = op.RecvReady
		cs.recvSlot = op.RecvMessage
		op.RecvReady = pipeline.NewCompletion(cs.recvReady)
	}
	return nil
}

// recvReady runs once the transport has produced a message or failed. It
// applies the recv cap, joins a size violation with any transport error so
// neither is discarded, and hands the result to the saved continuation.
func (cs *callState) recvReady(err error) {
	if cs.recvSlot != nil && *cs.recvSlot != nil {
		if n := len(*cs.recvSlot); !cs.limits.MaxRecv.Allows(n) {
			limit, _ := cs.limits.MaxRecv.Get()
			sizeErr := &SizeError{Direction: Recv, Actual: n, Limit: limit}
			if err == nil {
				err = sizeErr
			} else {
				err = errors.Join(err, sizeErr)
			}
		}
	}
	next := cs.pending
	cs.pending = nil
	cs.recvSlot = nil
	next.Run(err)
}

func (cs *callState) Close() {
	if cs.pending != nil {
		panic("msgsize: call destroyed with receive completion still pending")
	}
}
