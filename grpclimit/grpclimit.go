// Package grpclimit enforces message size limits on grpc-go clients with
// the same channel-default plus per-method resolution as the msgsize
// pipeline filter. Limits are resolved once per call from the channel
// configuration and the method path, and never re-read mid-call.
package grpclimit

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"

	"github.com/starius/msglimit/msgsize"
	"github.com/starius/msglimit/pipeline"
	"github.com/starius/msglimit/serviceconfig"
)

// UnaryClientInterceptor returns an interceptor that rejects an oversized
// request before invoking the RPC and an oversized response after it
// returns. Violations carry an invalid-argument status.
func UnaryClientInterceptor(cfg pipeline.ChannelConfig) grpc.UnaryClientInterceptor {
	defaults := msgsize.ChannelDefaults(cfg)
	return func(ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {

		lim := msgsize.Resolve(defaults, cfg.ServiceConfig, method)
		if err := checkMsg(req, lim.MaxSend, msgsize.Send); err != nil {
			return err
		}
		if err := invoker(ctx, method, req, reply, cc, opts...); err != nil {
			return err
		}
		return checkMsg(reply, lim.MaxRecv, msgsize.Recv)
	}
}

// StreamClientInterceptor returns an interceptor that applies the resolved
// limits to every SendMsg and RecvMsg on the stream.
func StreamClientInterceptor(cfg pipeline.ChannelConfig) grpc.StreamClientInterceptor {
	defaults := msgsize.ChannelDefaults(cfg)
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
		method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, err
		}
		return &limitedStream{
			ClientStream: cs,
			limits:       msgsize.Resolve(defaults, cfg.ServiceConfig, method),
		}, nil
	}
}

type limitedStream struct {
	grpc.ClientStream
	limits msgsize.Limits
}

func (s *limitedStream) SendMsg(m any) error {
	if err := checkMsg(m, s.limits.MaxSend, msgsize.Send); err != nil {
		return err
	}
	return s.ClientStream.SendMsg(m)
}

func (s *limitedStream) RecvMsg(m any) error {
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return err
	}
	return checkMsg(m, s.limits.MaxRecv, msgsize.Recv)
}

// checkMsg sizes m with proto.Size. Non-proto messages pass: their size on
// the wire is unknown at this layer.
func checkMsg(m any, c serviceconfig.SizeCap, dir msgsize.Direction) error {
	limit, ok := c.Get()
	if !ok {
		return nil
	}
	msg, ok := m.(proto.Message)
	if !ok {
		return nil
	}
	if n := proto.Size(msg); n > limit {
		return &msgsize.SizeError{Direction: dir, Actual: n, Limit: limit}
	}
	return nil
}
