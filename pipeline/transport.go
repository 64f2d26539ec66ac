package pipeline

import "errors"

// Transport is the terminal collaborator of a channel: it consumes fully
// filtered operations and later invokes their completions, on whatever
// goroutine it chooses.
type Transport interface {
	// NewStream creates transport-side state for one call.
	NewStream(methodPath string) TransportStream
}

// TransportStream is the transport's per-call endpoint.
type TransportStream interface {
	// StartOp consumes a fully filtered operation. A Cancel op must fire
	// any pending receive completion with the cancellation reason.
	StartOp(op *Operation)

	// Close releases transport-side call state.
	Close()
}

// TransportFilter adapts t into the terminal element of a filter sequence.
// It refuses any position other than the last.
func TransportFilter(t Transport) Filter {
	return transportFilter{t: t}
}

type transportFilter struct {
	t Transport
}

func (transportFilter) Name() string {
	return "transport"
}

func (f transportFilter) NewChannel(args ChannelArgs) (FilterChannel, error) {
	if !args.IsLast {
		return nil, errors.New("must be the terminal element of the filter sequence")
	}
	return transportChannel{t: f.t}, nil
}

type transportChannel struct {
	t Transport
}

func (c transportChannel) NewCall(methodPath string) FilterCall {
	return &transportCall{stream: c.t.NewStream(methodPath)}
}

func (transportChannel) Close() {}

type transportCall struct {
	stream TransportStream
}

func (tc *transportCall) HandleOp(op *Operation) error {
	tc.stream.StartOp(op)
	return nil
}

func (tc *transportCall) Close() {
	tc.stream.Close()
}
