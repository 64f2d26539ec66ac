package msgsize

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Direction distinguishes the two message flows a cap can apply to.
type Direction int

const (
	Send Direction = iota
	Recv
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "recv"
}

// SizeError reports a message that exceeded the active limit. It terminates
// only the offending call, never the channel.
type SizeError struct {
	Direction Direction
	Actual    int
	Limit     int
}

func (e *SizeError) Error() string {
	verb := "Sent"
	if e.Direction == Recv {
		verb = "Received"
	}
	return fmt.Sprintf("%s message larger than max (%d vs. %d)", verb, e.Actual, e.Limit)
}

// GRPCStatus classifies the error as invalid-argument, so RPC layers that
// inspect statuses surface it with the right code.
func (e *SizeError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}
