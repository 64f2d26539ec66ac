package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// testFilter is a configurable filter double that records lifecycle events.
type testFilter struct {
	name       string
	channelErr error
	sendErr    error
	events     *[]string
}

func (f *testFilter) Name() string { return f.name }

func (f *testFilter) NewChannel(args ChannelArgs) (FilterChannel, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return &testFilterChannel{f: f}, nil
}

type testFilterChannel struct{ f *testFilter }

func (c *testFilterChannel) NewCall(methodPath string) FilterCall {
	return &testFilterCall{f: c.f}
}

func (c *testFilterChannel) Close() {
	*c.f.events = append(*c.f.events, c.f.name+": channel closed")
}

type testFilterCall struct{ f *testFilter }

func (fc *testFilterCall) HandleOp(op *Operation) error {
	if op.SendMessage != nil {
		if fc.f.sendErr != nil {
			return fc.f.sendErr
		}
		*fc.f.events = append(*fc.f.events, fc.f.name+": send")
	}
	return nil
}

func (fc *testFilterCall) Close() {
	*fc.f.events = append(*fc.f.events, fc.f.name+": call closed")
}

// sinkTransport is a minimal in-test Transport that records ops and holds a
// pending receive completion.
type sinkTransport struct {
	stream *sinkStream
}

func (t *sinkTransport) NewStream(methodPath string) TransportStream {
	t.stream = &sinkStream{method: methodPath}
	return t.stream
}

type sinkStream struct {
	method  string
	sent    [][]byte
	pending *Completion
	slot    *[]byte
	closed  bool
}

func (s *sinkStream) StartOp(op *Operation) {
	if op.SendMessage != nil {
		s.sent = append(s.sent, op.SendMessage)
	}
	if op.RecvReady != nil {
		s.pending = op.RecvReady
		s.slot = op.RecvMessage
	}
	if op.Cancel != nil && s.pending != nil {
		pending := s.pending
		s.pending = nil
		pending.Run(op.Cancel)
	}
}

func (s *sinkStream) Close() { s.closed = true }

func newTestFilter(name string, events *[]string) *testFilter {
	return &testFilter{name: name, events: events}
}

func TestCompletion_RunsExactlyOnce(t *testing.T) {
	t.Parallel()

	var got []error
	c := NewCompletion(func(err error) { got = append(got, err) })

	want := errors.New("boom")
	c.Run(want)
	require.Equal(t, []error{want}, got)

	require.PanicsWithValue(t, "pipeline: completion invoked twice", func() {
		c.Run(nil)
	})
	require.Len(t, got, 1)
}

func TestNewCompletion_NilFuncPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { NewCompletion(nil) })
}

func TestNewChannel_NeedsFilters(t *testing.T) {
	t.Parallel()

	_, err := NewChannel(ChannelConfig{})
	require.Error(t, err)
}

func TestNewChannel_FilterErrorUnwindsBuiltState(t *testing.T) {
	t.Parallel()

	var events []string
	first := newTestFilter("first", &events)
	boom := errors.New("misconfigured")
	second := &testFilter{name: "second", channelErr: boom, events: &events}

	_, err := NewChannel(ChannelConfig{}, first, second)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "second", cfgErr.Filter)
	require.ErrorIs(t, err, boom)

	// The state already built for the first filter was torn down.
	require.Equal(t, []string{"first: channel closed"}, events)
}

func TestTransportFilter_MustBeLast(t *testing.T) {
	t.Parallel()

	var events []string
	tr := &sinkTransport{}

	_, err := NewChannel(ChannelConfig{}, TransportFilter(tr), newTestFilter("after", &events))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "transport", cfgErr.Filter)
}

func TestCall_OpsFlowTopToBottom(t *testing.T) {
	t.Parallel()

	var events []string
	tr := &sinkTransport{}
	ch, err := NewChannel(ChannelConfig{},
		newTestFilter("a", &events), newTestFilter("b", &events), TransportFilter(tr))
	require.NoError(t, err)
	defer ch.Close()

	call := ch.NewCall("/svc/M")
	require.Equal(t, "/svc/M", call.Method())

	msg := []byte("hello")
	require.NoError(t, call.StartOp(&Operation{SendMessage: msg}))
	require.Equal(t, []string{"a: send", "b: send"}, events)
	require.Equal(t, [][]byte{msg}, tr.stream.sent)
	require.NoError(t, call.Err())

	call.Finish()
	require.True(t, tr.stream.closed)
}

func TestCall_RejectionTerminatesAndCompletesReceive(t *testing.T) {
	t.Parallel()

	var events []string
	reject := errors.New("too big")
	bad := &testFilter{name: "bad", sendErr: reject, events: &events}
	tr := &sinkTransport{}

	ch, err := NewChannel(ChannelConfig{}, bad, TransportFilter(tr))
	require.NoError(t, err)
	defer ch.Close()

	call := ch.NewCall("/svc/M")
	defer call.Finish()

	var gotErrs []error
	op := &Operation{
		SendMessage: []byte("xxxx"),
		RecvReady:   NewCompletion(func(err error) { gotErrs = append(gotErrs, err) }),
	}
	require.ErrorIs(t, call.StartOp(op), reject)

	// The op never reached the transport, yet the registered receive
	// continuation fired exactly once, with the rejection.
	require.Nil(t, tr.stream.sent)
	require.Equal(t, []error{reject}, gotErrs)
	require.ErrorIs(t, call.Err(), reject)

	// Further ops on the terminated call fail the same way.
	var after []error
	op2 := &Operation{RecvReady: NewCompletion(func(err error) { after = append(after, err) })}
	require.ErrorIs(t, call.StartOp(op2), reject)
	require.Equal(t, []error{reject}, after)
}

func TestCall_CancelFiresPendingReceive(t *testing.T) {
	t.Parallel()

	tr := &sinkTransport{}
	ch, err := NewChannel(ChannelConfig{}, TransportFilter(tr))
	require.NoError(t, err)
	defer ch.Close()

	call := ch.NewCall("/svc/M")

	var msg []byte
	var gotErrs []error
	op := &Operation{
		RecvMessage: &msg,
		RecvReady:   NewCompletion(func(err error) { gotErrs = append(gotErrs, err) }),
	}
	require.NoError(t, call.StartOp(op))
	require.Empty(t, gotErrs)

	reason := errors.New("caller went away")
	call.Cancel(reason)
	require.Equal(t, []error{reason}, gotErrs)
	require.ErrorIs(t, call.Err(), reason)

	call.Finish()
}

func TestCall_CancelNilReasonGetsStatus(t *testing.T) {
	t.Parallel()

	tr := &sinkTransport{}
	ch, err := NewChannel(ChannelConfig{}, TransportFilter(tr))
	require.NoError(t, err)
	defer ch.Close()

	call := ch.NewCall("/svc/M")
	call.Cancel(nil)
	require.Error(t, call.Err())
	call.Finish()
}

func TestChannel_CloseIdempotent(t *testing.T) {
	t.Parallel()

	var events []string
	ch, err := NewChannel(ChannelConfig{},
		newTestFilter("only", &events), TransportFilter(&sinkTransport{}))
	require.NoError(t, err)

	ch.Close()
	ch.Close()
	require.Equal(t, []string{"only: channel closed"}, events)
}

func TestCall_FinishIdempotentAndBottomUp(t *testing.T) {
	t.Parallel()

	var events []string
	tr := &sinkTransport{}
	ch, err := NewChannel(ChannelConfig{},
		newTestFilter("a", &events), newTestFilter("b", &events), TransportFilter(tr))
	require.NoError(t, err)
	defer ch.Close()

	call := ch.NewCall("/svc/M")
	call.Finish()
	call.Finish()
	require.Equal(t, []string{"b: call closed", "a: call closed"}, events)
}

func TestConfigError_Message(t *testing.T) {
	t.Parallel()

	err := &ConfigError{Filter: "message_size", Err: errors.New("bad position")}
	require.Equal(t, "filter message_size: bad position", err.Error())
	require.Equal(t, "filter message_size: bad position", fmt.Sprintf("%v", err))
}
