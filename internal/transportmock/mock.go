// Package transportmock provides an in-memory pipeline.Transport whose
// message delivery is driven explicitly by the caller. Tests (and the
// limitcheck probe) use it to play the transport's role at the bottom of a
// filter sequence: recording outbound messages, holding pending receive
// completions, and firing them on demand.
package transportmock

import (
	"sync"

	"github.com/starius/msglimit/pipeline"
)

// Transport is an in-memory pipeline.Transport.
type Transport struct {
	mu      sync.Mutex
	streams []*Stream
}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) NewStream(methodPath string) pipeline.TransportStream {
	s := &Stream{method: methodPath}
	t.mu.Lock()
	t.streams = append(t.streams, s)
	t.mu.Unlock()
	return s
}

// Streams returns the streams created so far, in creation order.
func (t *Transport) Streams() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Stream{}, t.streams...)
}

// Stream is the transport-side state of one call. At most one receive may
// be pending at a time, matching the one-outstanding-receive discipline of
// the pipeline.
type Stream struct {
	method string

	mu           sync.Mutex
	sent         [][]byte
	pendingReady *pipeline.Completion
	pendingSlot  *[]byte
	cancelErr    error
	closed       bool
}

// Method returns the full method path the stream was created for.
func (s *Stream) Method() string {
	return s.method
}

func (s *Stream) StartOp(op *pipeline.Operation) {
	s.mu.Lock()
	if op.SendMessage != nil {
		s.sent = append(s.sent, op.SendMessage)
	}
	if op.RecvReady != nil {
		if s.pendingReady != nil {
			s.mu.Unlock()
			panic("transportmock: receive already pending")
		}
		s.pendingReady = op.RecvReady
		s.pendingSlot = op.RecvMessage
	}
	var fire *pipeline.Completion
	if op.Cancel != nil {
		s.cancelErr = op.Cancel
		fire = s.pendingReady
		s.pendingReady = nil
		s.pendingSlot = nil
	}
	s.mu.Unlock()

	// Cancellation flushes the pending receive with the reason, outside
	// the lock: completions may re-enter the stream.
	if fire != nil {
		fire.Run(op.Cancel)
	}
}

// Deliver stores msg into the pending receive slot and fires the pending
// completion with err. Panics if no receive is pending.
func (s *Stream) Deliver(msg []byte, err error) {
	s.mu.Lock()
	ready := s.pendingReady
	slot := s.pendingSlot
	s.pendingReady = nil
	s.pendingSlot = nil
	s.mu.Unlock()
	if ready == nil {
		panic("transportmock: no receive pending")
	}
	if slot != nil {
		*slot = msg
	}
	ready.Run(err)
}

// Sent returns the outbound messages recorded so far.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.sent...)
}

// CancelErr returns the cancellation reason, if the stream was cancelled.
func (s *Stream) CancelErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelErr
}

// Closed reports whether the stream's call has finished.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
